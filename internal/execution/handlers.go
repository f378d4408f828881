package execution

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/ledger"
)

// Handlers exposes the Execution Gateway's HTTP API.
type Handlers struct {
	gateway       *Gateway
	repo          *ledger.Repository
	webhookSecret string
	log           zerolog.Logger
}

// NewHandlers builds the gateway's HTTP handlers.
func NewHandlers(gateway *Gateway, repo *ledger.Repository, webhookSecret string, log zerolog.Logger) *Handlers {
	return &Handlers{gateway: gateway, repo: repo, webhookSecret: webhookSecret, log: log.With().Str("component", "execution-handlers").Logger()}
}

// Mount registers routes on r, suitable as an httpserver.Config.Mount callback.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.submitOrder)
		r.Post("/slice", h.submitSlice)
		r.Get("/{clientOrderID}", h.getOrder)
		r.Get("/", h.listOrders)
	})
	r.Post("/api/v1/webhooks/orders", h.webhook)
	r.Get("/health", h.health)
}

type submitOrderBody struct {
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Qty         int64    `json:"qty"`
	OrderType   string   `json:"order_type"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	TimeInForce string   `json:"time_in_force,omitempty"`
	StrategyID  string   `json:"strategy_id,omitempty"`
	MarkPrice   float64  `json:"mark_price,omitempty"`
}

func (h *Handlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	var body submitOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid_body", "could not parse request body"))
		return
	}

	order, err := h.gateway.Submit(r.Context(), OrderRequest{
		Symbol: body.Symbol, Side: body.Side, Qty: body.Qty, OrderType: body.OrderType,
		LimitPrice: body.LimitPrice, TimeInForce: body.TimeInForce, StrategyID: body.StrategyID,
	}, body.MarkPrice)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_order_id": order.ClientOrderID,
		"status":          order.Status,
		"broker_order_id": order.BrokerOrderID,
	})
}

type submitSliceBody struct {
	ParentClientOrderID string  `json:"parent_client_order_id,omitempty"`
	Symbol               string  `json:"symbol"`
	Side                 string  `json:"side"`
	TotalQty             int64   `json:"total_qty"`
	NumSlices            int     `json:"num_slices"`
	StrategyID           string  `json:"strategy_id,omitempty"`
	MarkPrice            float64 `json:"mark_price,omitempty"`
}

func (h *Handlers) submitSlice(w http.ResponseWriter, r *http.Request) {
	var body submitSliceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid_body", "could not parse request body"))
		return
	}

	parentID, results, err := h.gateway.SubmitSliced(r.Context(), TwapPlan{
		ParentClientOrderID: body.ParentClientOrderID,
		Symbol:              body.Symbol,
		Side:                body.Side,
		TotalQty:            body.TotalQty,
		NumSlices:           body.NumSlices,
		StrategyID:          body.StrategyID,
	}, body.MarkPrice)
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ClientOrderID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"parent_client_order_id": parentID,
		"slices":                 ids,
	})
}

func (h *Handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientOrderID")
	order, err := h.repo.FindByClientOrderID(id)
	if err != nil {
		if err == ledger.ErrNotFound {
			writeError(w, apperr.New(apperr.KindNotFound, "order_not_found", "no order with that client_order_id"))
			return
		}
		writeError(w, apperr.Wrap(apperr.KindInternal, "ledger_read_failed", "could not read order", err))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if symbol == "" {
		writeError(w, apperr.New(apperr.KindValidation, "symbol_required", "symbol query parameter is required"))
		return
	}

	orders, err := h.repo.ListBySymbol(symbol, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "ledger_read_failed", "could not list orders", err))
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handlers) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "body_read_failed", "could not read request body"))
		return
	}

	signature := r.Header.Get("X-Alpaca-Signature")
	if !broker.VerifySignature(h.webhookSecret, string(raw), signature) {
		writeError(w, apperr.New(apperr.KindValidation, "invalid_signature", "webhook signature verification failed"))
		return
	}

	var payload broker.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid_body", "could not parse webhook payload"))
		return
	}

	if err := h.gateway.HandleWebhook(payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"startup_gate": h.gateway.StartupGateOpen(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	code := "internal"
	message := err.Error()
	if appErr, ok := apperr.As(err); ok {
		code = appErr.Code
		message = appErr.Message
	}
	writeJSON(w, status, map[string]interface{}{
		"error":   message,
		"code":    code,
		"status":  status,
	})
}
