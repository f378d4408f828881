package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/apperr"
)

// Handlers exposes the Orchestrator HTTP API.
type Handlers struct {
	orchestrator *Orchestrator
	repo         *Repository
	log          zerolog.Logger
}

// NewHandlers builds the orchestrator's HTTP handlers.
func NewHandlers(orchestrator *Orchestrator, repo *Repository, log zerolog.Logger) *Handlers {
	return &Handlers{orchestrator: orchestrator, repo: repo, log: log.With().Str("component", "orchestrator-handlers").Logger()}
}

// Mount registers routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/api/v1/orchestration/run", h.run)
	r.Get("/api/v1/orchestration/runs/{runID}", h.getRun)
	r.Get("/health", h.health)
}

type runRequestBody struct {
	Symbols         []string `json:"symbols"`
	Strategy        string   `json:"strategy"`
	Capital         float64  `json:"capital"`
	MaxPositionSize float64  `json:"max_position_size"`
	AsOfDate        string   `json:"as_of_date,omitempty"`
}

func (h *Handlers) run(w http.ResponseWriter, r *http.Request) {
	var body runRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid_body", "could not parse request body"))
		return
	}
	if body.Strategy == "" || len(body.Symbols) == 0 || body.Capital <= 0 {
		writeError(w, apperr.New(apperr.KindValidation, "missing_fields", "strategy, symbols, and a positive capital are required"))
		return
	}

	run, err := h.orchestrator.Run(r.Context(), RunRequest{
		Symbols: body.Symbols, Strategy: body.Strategy, Capital: body.Capital,
		MaxPositionSize: body.MaxPositionSize, AsOfDate: body.AsOfDate,
	})
	if err != nil {
		h.log.Error().Err(err).Str("strategy", body.Strategy).Msg("orchestration run failed")
	}
	// A run that failed to even fetch signals still returns its partial
	// record with a 200: the run_id and status carry the failure, matching
	// the documented response shape rather than overloading HTTP status.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":               run.RunID,
		"status":               run.Status,
		"num_signals":          run.NumSignals,
		"num_orders_submitted": run.Submitted,
		"num_orders_accepted":  run.Accepted,
		"num_orders_rejected":  run.Rejected,
		"mappings":             run.Mappings,
		"duration_seconds":     run.Duration.Seconds(),
	})
}

func (h *Handlers) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.repo.FindByRunID(runID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindNotFound, "run_not_found", "no such run", err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	bodyMap := map[string]interface{}{"error": err.Error()}
	if appErr, ok := apperr.As(err); ok {
		bodyMap["error"] = appErr.Message
		bodyMap["code"] = appErr.Code
	}
	writeJSON(w, status, bodyMap)
}
