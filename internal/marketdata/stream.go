package marketdata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/risk"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// QuoteStream maintains a reconnecting WebSocket subscription to the
// broker's live quote feed, writing every tick into the quote Cache and
// the shared risk-store price cache. Ported from the teacher's
// MarketStatusWebSocket: same HTTP/1.1-forced dialer (required because
// Cloudflare negotiates HTTP/2 via TLS ALPN but the WebSocket upgrade
// needs HTTP/1.1) and the same exponential-backoff reconnect loop.
type QuoteStream struct {
	url        string
	symbols    []string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	cache *Cache
	risk  *risk.Store
	mgr   *events.Manager
	log   zerolog.Logger

	stopChan     chan struct{}
	stopped      bool
	reconnecting bool
}

// NewQuoteStream builds a stream against the broker's quote WebSocket
// endpoint, subscribing to symbols on connect.
func NewQuoteStream(url string, symbols []string, cache *Cache, riskStore *risk.Store, mgr *events.Manager, log zerolog.Logger) *QuoteStream {
	return &QuoteStream{
		url:        url,
		symbols:    symbols,
		httpClient: createHTTP1Client(),
		cache:      cache,
		risk:       riskStore,
		mgr:        mgr,
		log:        log.With().Str("component", "quote_stream").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// createHTTP1Client forces HTTP/1.1 by only advertising it over ALPN, so
// the TLS handshake never negotiates HTTP/2 out from under the WebSocket
// upgrade.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
			ForceAttemptHTTP2: false,
		},
	}
}

// Start dials the stream and begins the read loop in the background. A
// failed initial dial is not fatal: the reconnect loop takes over.
func (qs *QuoteStream) Start() error {
	qs.log.Info().Strs("symbols", qs.symbols).Msg("starting quote stream")

	if err := qs.Connect(); err != nil {
		qs.log.Warn().Err(err).Msg("initial quote stream connect failed, retrying in background")
		go qs.reconnectLoop()
		return err
	}

	qs.mu.RLock()
	ctx := qs.connCtx
	qs.mu.RUnlock()
	go qs.readMessages(ctx)
	return nil
}

// Stop shuts the stream down and closes the connection.
func (qs *QuoteStream) Stop() error {
	qs.mu.Lock()
	if qs.stopped {
		qs.mu.Unlock()
		return nil
	}
	qs.stopped = true
	qs.mu.Unlock()

	close(qs.stopChan)
	return qs.Disconnect()
}

// Connect dials the WebSocket and subscribes to the configured symbols.
func (qs *QuoteStream) Connect() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, qs.url, &websocket.DialOptions{HTTPClient: qs.httpClient})
	if err != nil {
		return fmt.Errorf("dial quote stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	qs.conn = conn
	qs.connCtx = connCtx
	qs.cancelFunc = connCancel

	if err := qs.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		qs.conn = nil
		qs.connCtx = nil
		qs.cancelFunc = nil
		return fmt.Errorf("subscribe to quotes: %w", err)
	}

	qs.log.Info().Msg("quote stream connected")
	return nil
}

// Disconnect closes the connection, if any.
func (qs *QuoteStream) Disconnect() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.conn == nil {
		return nil
	}
	if qs.cancelFunc != nil {
		qs.cancelFunc()
		qs.cancelFunc = nil
	}
	err := qs.conn.Close(websocket.StatusNormalClosure, "")
	qs.conn = nil
	qs.connCtx = nil
	if err != nil {
		return fmt.Errorf("close quote stream: %w", err)
	}
	return nil
}

func (qs *QuoteStream) subscribe(ctx context.Context) error {
	data, err := json.Marshal(map[string]interface{}{"subscribe": "quotes", "symbols": qs.symbols})
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return qs.conn.Write(writeCtx, websocket.MessageText, data)
}

func (qs *QuoteStream) readMessages(ctx context.Context) {
	defer func() {
		qs.mu.RLock()
		stopped := qs.stopped
		qs.mu.RUnlock()
		if !stopped {
			go qs.reconnectLoop()
		}
	}()

	for {
		select {
		case <-qs.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		qs.mu.RLock()
		conn := qs.conn
		qs.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				qs.log.Info().Msg("quote stream closed normally")
			} else if ctx.Err() == nil {
				qs.log.Error().Err(err).Msg("unexpected quote stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if err := qs.handleMessage(message); err != nil {
			qs.log.Error().Err(err).Str("message", string(message)).Msg("failed to handle quote message")
		}
	}
}

func (qs *QuoteStream) handleMessage(message []byte) error {
	var data wsQuoteData
	if err := json.Unmarshal(message, &data); err != nil {
		return fmt.Errorf("parse quote message: %w", err)
	}
	if data.Symbol == "" {
		return nil
	}

	updatedAt := time.Now()
	if data.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, data.Timestamp); err == nil {
			updatedAt = parsed
		}
	}

	q := Quote{Symbol: data.Symbol, Last: data.Last, Bid: data.Bid, Ask: data.Ask, UpdatedAt: updatedAt}
	if err := qs.cache.Set(q); err != nil {
		qs.log.Error().Err(err).Str("symbol", q.Symbol).Msg("failed to persist quote snapshot")
	}
	if qs.risk != nil {
		if err := qs.risk.CachePrice(q.Symbol, q.Last, q.Bid, q.Ask); err != nil {
			qs.log.Error().Err(err).Str("symbol", q.Symbol).Msg("failed to cache price in risk store")
		}
	}
	if qs.mgr != nil {
		qs.mgr.Emit("quote_stream", &events.PriceUpdatedData{Symbol: q.Symbol, Price: q.Last, Bid: q.Bid, Ask: q.Ask})
	}
	return nil
}

func (qs *QuoteStream) reconnectLoop() {
	qs.mu.Lock()
	if qs.reconnecting || qs.stopped {
		qs.mu.Unlock()
		return
	}
	qs.reconnecting = true
	qs.mu.Unlock()

	defer func() {
		qs.mu.Lock()
		qs.reconnecting = false
		qs.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-qs.stopChan:
			return
		default:
		}

		qs.mu.RLock()
		stopped := qs.stopped
		qs.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)
		qs.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting quote stream")

		select {
		case <-time.After(delay):
		case <-qs.stopChan:
			return
		}

		if err := qs.Connect(); err != nil {
			qs.log.Error().Err(err).Int("attempt", attempt).Msg("quote stream reconnect failed")
			continue
		}

		qs.log.Info().Int("attempt", attempt).Msg("quote stream reconnected")
		qs.mu.RLock()
		ctx := qs.connCtx
		qs.mu.RUnlock()
		go qs.readMessages(ctx)
		return
	}
}

func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	if attempt > maxReconnectAttempts {
		return maxReconnectDelay
	}
	return time.Duration(delay)
}
