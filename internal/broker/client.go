package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"
)

// Client is the broker-agnostic interface every gateway/reconciliation
// consumer codes against. An HTTP implementation backs production; tests
// supply a fake.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	GetOpenOrders(ctx context.Context) ([]BrokerOrder, error)
	GetOrdersSince(ctx context.Context, since time.Time) ([]BrokerOrder, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}

// HTTPClient is a generic REST broker client. It is rate limited the way
// the tradernet SDK and the gate.io adapter in the reference pack are:
// a token bucket guarding every outbound call, waited on (not dropped).
type HTTPClient struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	http        *http.Client
	log         zerolog.Logger
	rateLimiter *rate.Limiter
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
	// RateLimit caps requests/second; Burst caps the token bucket size.
	// Defaults (25 rps, burst 30) match the pack's exchange adapter.
	RateLimit rate.Limit
	Burst     int
}

// NewHTTPClient builds an HTTPClient against cfg.
func NewHTTPClient(cfg Config, log zerolog.Logger) *HTTPClient {
	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Limit(25)
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 30
	}
	return &HTTPClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.Secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log.With().Str("component", "broker").Logger(),
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// SubmitOrder posts an order to the broker. Transient failures (network
// errors, 5xx) are the caller's responsibility to retry with backoff —
// this method does not retry internally so the gateway's CAS-aware retry
// loop stays the single place that decides terminal vs. retryable.
func (c *HTTPClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}

	body := map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":             req.Side,
		"qty":              req.Qty,
		"order_type":       req.OrderType,
		"time_in_force":    req.TimeInForce,
	}
	if req.LimitPrice != nil {
		body["limit_price"] = *req.LimitPrice
	}

	var ack OrderAck
	if err := c.doJSON(ctx, http.MethodPost, "/v2/orders", body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// GetOpenOrders returns all orders the broker still considers open.
func (c *HTTPClient) GetOpenOrders(ctx context.Context) ([]BrokerOrder, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}
	var orders []BrokerOrder
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders?status=open", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrdersSince returns all broker orders updated at or after since,
// used by reconciliation's high-water-mark sweep.
func (c *HTTPClient) GetOrdersSince(ctx context.Context, since time.Time) ([]BrokerOrder, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}
	path := fmt.Sprintf("/v2/orders?after=%s", since.UTC().Format(time.RFC3339))
	var orders []BrokerOrder
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetPositions returns the broker's authoritative position set.
func (c *HTTPClient) GetPositions(ctx context.Context) ([]Position, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}
	var positions []Position
	if err := c.doJSON(ctx, http.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetQuote fetches a single real-time quote.
func (c *HTTPClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}
	var quote Quote
	if err := c.doJSON(ctx, http.MethodGet, "/v2/quotes/"+symbol, nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetBars fetches the most recent lookback daily bars for symbol.
func (c *HTTPClient) GetBars(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate limit wait: %w", err)
	}
	path := fmt.Sprintf("/v2/bars/%s?lookback=%d", symbol, lookback)
	var bars []Bar
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Cause: err}
	}

	if resp.StatusCode >= 500 {
		return &TransientError{Cause: fmt.Errorf("broker %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		return &PermanentError{Cause: fmt.Errorf("broker %d: %s", resp.StatusCode, raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode broker response: %w", err)
	}
	return nil
}

// TransientError wraps a broker fault worth retrying with backoff
// (network timeout, 5xx).
type TransientError struct{ Cause error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient broker error: %v", e.Cause) }
func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError wraps a broker fault that should terminalize the order
// as rejected rather than retry (4xx).
type PermanentError struct{ Cause error }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent broker error: %v", e.Cause) }
func (e *PermanentError) Unwrap() error { return e.Cause }
