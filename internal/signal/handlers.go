package signal

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/apperr"
)

// Handlers exposes the Signal Service HTTP API.
type Handlers struct {
	engine   *Engine
	registry *Registry
	log      zerolog.Logger
}

// NewHandlers builds the signal HTTP handlers.
func NewHandlers(engine *Engine, registry *Registry, log zerolog.Logger) *Handlers {
	return &Handlers{engine: engine, registry: registry, log: log.With().Str("component", "signal-handlers").Logger()}
}

// Mount registers routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/api/v1/signals/generate", h.generate)
	r.Post("/api/v1/model/reload", h.reload)
	r.Get("/api/v1/model/info", h.info)
	r.Get("/health", h.health)
}

type generateRequest struct {
	Symbols  []string `json:"symbols"`
	Strategy string   `json:"strategy"`
	AsOfDate string   `json:"as_of_date"`
}

func (h *Handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "bad_request", "invalid request body", err))
		return
	}
	if req.Strategy == "" || len(req.Symbols) == 0 {
		writeError(w, apperr.New(apperr.KindValidation, "missing_fields", "strategy and symbols are required"))
		return
	}

	result, err := h.engine.Generate(req.Strategy, req.AsOfDate, req.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": result.Signals,
		"metadata": map[string]interface{}{
			"strategy":      result.StrategyName,
			"as_of_date":    result.AsOfDate,
			"model_version": result.ModelVersion,
		},
	})
}

type reloadRequest struct {
	Strategy string `json:"strategy"`
}

func (h *Handlers) reload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Strategy == "" {
		writeError(w, apperr.New(apperr.KindValidation, "missing_fields", "strategy is required"))
		return
	}

	reloaded, err := h.registry.ReloadIfChanged(req.Strategy)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "reload_failed", "model reload failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": reloaded})
}

func (h *Handlers) info(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		writeError(w, apperr.New(apperr.KindValidation, "missing_fields", "strategy query parameter is required"))
		return
	}

	handle, err := h.registry.CurrentModel(strategy)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindFailClosed, "no_model_loaded", "no active model loaded", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_name": handle.Metadata.StrategyName,
		"version":       handle.Metadata.Version,
		"status":        handle.Metadata.Status,
		"activated_at":  handle.Metadata.ActivatedAt,
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.registry.AnyModelLoaded() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	body := map[string]interface{}{"error": err.Error()}
	if appErr, ok := apperr.As(err); ok {
		body["error"] = appErr.Message
		body["code"] = appErr.Code
	}
	writeJSON(w, status, body)
}
