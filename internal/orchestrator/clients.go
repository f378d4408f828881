package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayClient submits orders to the Execution Gateway's HTTP API.
// Shaped like internal/broker.HTTPClient's doJSON helper — a plain
// internal service client, no HMAC signing (service-to-service traffic
// here isn't exposed to the broker's webhook surface).
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

// NewGatewayClient builds a client against the gateway's base URL.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// SubmitOrderRequest mirrors execution.submitOrderBody's wire shape.
type SubmitOrderRequest struct {
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Qty         int64    `json:"qty"`
	OrderType   string   `json:"order_type"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	TimeInForce string   `json:"time_in_force,omitempty"`
	StrategyID  string   `json:"strategy_id,omitempty"`
	MarkPrice   float64  `json:"mark_price,omitempty"`
}

// SubmitOrderResponse is the gateway's order-row response shape.
type SubmitOrderResponse struct {
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

// GatewayError carries the gateway's HTTP status and error body so the
// orchestrator's submission loop can tell a transient 503/429 from a
// permanent 422 reject.
type GatewayError struct {
	StatusCode int
	Body       string
	// Code is the apperr.Error.Code parsed out of the gateway's JSON
	// error body, e.g. "circuit_breaker_tripped" or "kill_switch_engaged".
	// Empty if the body wasn't the gateway's usual error shape.
	Code string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

// failClosedCodes are the apperr.KindFailClosed codes the gateway emits
// for a tripped safety gate (kill switch, circuit breaker, startup gate,
// reconciliation gate, quarantine readability). These also answer with
// HTTP 503, same as a genuinely transient broker fault, so Code is the
// only way to tell them apart: a fail-closed gate won't open on retry,
// it needs to be recorded as a skip instead.
var failClosedCodes = map[string]bool{
	"startup_gate_closed":            true,
	"kill_switch_engaged":            true,
	"circuit_breaker_tripped":        true,
	"reconciliation_gate_unreadable": true,
	"reconciliation_gate_closed":     true,
	"quarantine_unreadable":          true,
}

// FailClosed reports whether this error represents a tripped safety
// gate rather than a transient broker fault.
func (e *GatewayError) FailClosed() bool {
	return failClosedCodes[e.Code]
}

// Transient reports whether the loop should retry: 429 and 5xx are
// retryable, except a fail-closed gate, which won't open just because
// the caller waits and tries again.
func (e *GatewayError) Transient() bool {
	if e.FailClosed() {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SubmitOrder posts req to the gateway and decodes its response.
func (c *GatewayClient) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/orders", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit order to gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 300 {
		gwErr := &GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
		var errBody struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &errBody) == nil {
			gwErr.Code = errBody.Code
		}
		return nil, gwErr
	}

	var out SubmitOrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &out, nil
}

// SignalClient fetches signals from the Signal Service's HTTP API.
type SignalClient struct {
	baseURL string
	http    *http.Client
}

// NewSignalClient builds a client against the signal service's base URL.
func NewSignalClient(baseURL string) *SignalClient {
	return &SignalClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type generateSignalsRequest struct {
	Symbols  []string `json:"symbols"`
	Strategy string   `json:"strategy"`
	AsOfDate string   `json:"as_of_date,omitempty"`
}

type generateSignalsResponse struct {
	Signals []Signal `json:"signals"`
}

// Generate fetches the current signal set for strategy over symbols.
func (c *SignalClient) Generate(ctx context.Context, strategy, asOfDate string, symbols []string) ([]Signal, error) {
	buf, err := json.Marshal(generateSignalsRequest{Symbols: symbols, Strategy: strategy, AsOfDate: asOfDate})
	if err != nil {
		return nil, fmt.Errorf("marshal signal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/signals/generate", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build signal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read signal response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signal service responded %d: %s", resp.StatusCode, raw)
	}

	var out generateSignalsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode signal response: %w", err)
	}
	return out.Signals, nil
}
