package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGatewayClient_SubmitOrder_ParsesCodeFromErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "circuit breaker is not open", "code": "circuit_breaker_tripped",
		})
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL)
	_, err := client.SubmitOrder(context.Background(), SubmitOrderRequest{Symbol: "AAPL", Side: "buy", Qty: 10})
	require.Error(t, err)

	gwErr, ok := err.(*GatewayError)
	require.True(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	require.Equal(t, "circuit_breaker_tripped", gwErr.Code)
	require.True(t, gwErr.FailClosed())
	require.False(t, gwErr.Transient(), "a fail-closed 503 must not be treated as retryable")
}

func TestGatewayError_TransientBrokerFaultIsStillRetried(t *testing.T) {
	err := &GatewayError{StatusCode: http.StatusServiceUnavailable, Code: "broker_unreachable"}
	require.False(t, err.FailClosed())
	require.True(t, err.Transient())
}
