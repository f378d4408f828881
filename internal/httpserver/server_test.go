package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/procstats"
)

func TestMetricsHandler_ReturnsDecodableSnapshot(t *testing.T) {
	handler := metricsHandler(zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap procstats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
}

func TestNew_MountsCallerRoutesAlongsideMetrics(t *testing.T) {
	var mounted bool
	srv := New(Config{
		Log:  zerolog.Nop(),
		Port: 0,
		Mount: func(r chi.Router) {
			mounted = true
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		},
	})
	require.NotNil(t, srv)
	require.True(t, mounted)
}
