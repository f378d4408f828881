package reconciliation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers exposes operator controls over the reconciliation engine.
type Handlers struct {
	engine *Engine
	log    zerolog.Logger
}

// NewHandlers builds the reconciliation HTTP handlers.
func NewHandlers(engine *Engine, log zerolog.Logger) *Handlers {
	return &Handlers{engine: engine, log: log.With().Str("component", "reconciliation-handlers").Logger()}
}

// Mount registers routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/api/v1/reconciliation/run", h.runNow)
}

func (h *Handlers) runNow(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Run(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}
