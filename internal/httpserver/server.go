// Package httpserver builds the chi-based HTTP server shared by all
// three trade-control-plane binaries: the same middleware stack and
// lifecycle management, with each binary supplying its own route mounter.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/procstats"
)

// Config configures a new Server.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	// Mount is called once with a fresh router so the caller can
	// register its own routes; kept as a callback instead of returning
	// the router so Server stays the single owner of the middleware stack.
	Mount func(r chi.Router)
}

// Server wraps an http.Server with the teacher's standard middleware
// stack (panic recovery, request id, real ip, structured request
// logging, timeout, CORS, compression) and graceful shutdown.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server; call Start to begin serving.
func New(cfg Config) *Server {
	router := chi.NewRouter()
	log := cfg.Log.With().Str("component", "httpserver").Logger()

	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(log))
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Alpaca-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !cfg.DevMode {
		router.Use(middleware.Compress(5))
	}

	router.Get("/metrics", metricsHandler(log))

	if cfg.Mount != nil {
		cfg.Mount(router)
	}

	return &Server{
		router: router,
		log:    log,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

// metricsHandler serves process CPU/memory stats common to all three
// binaries; each binary's own domain-specific handlers mount alongside
// it via cfg.Mount.
func metricsHandler(log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(procstats.Sample(log))
	}
}

func requestLoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
