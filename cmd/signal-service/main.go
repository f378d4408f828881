// Command signal-service runs the Signal Service: the model registry
// (catalog plus hot-reload), the feature/ranking engine, and the HTTP
// API the orchestrator polls for the current signal set.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/config"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/httpserver"
	"github.com/aristath/tradeplane/internal/marketdata"
	"github.com/aristath/tradeplane/internal/scheduler"
	"github.com/aristath/tradeplane/internal/signal"
	"github.com/aristath/tradeplane/internal/storedb"
	"github.com/aristath/tradeplane/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		logger.FatalExit(bootLog, logger.ExitMisconfigured, err, "failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting signal service")

	modelDB, err := storedb.Open(storedb.Config{Path: cfg.ModelRegistryURL, Profile: storedb.ProfileStandard, Name: "models"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open model registry database")
	}
	defer modelDB.Close()
	if err := modelDB.Migrate(signal.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate model registry database")
	}

	bus := events.NewBus()
	mgr := events.NewManager(bus, log)

	registry := signal.NewRegistry(modelDB.Conn(), signal.FileLoader{}, mgr, log)

	brokerClient := broker.NewHTTPClient(broker.Config{
		BaseURL: cfg.BrokerBaseURL, APIKey: cfg.BrokerAPIKey, Secret: cfg.BrokerAPISecret,
	}, log)
	prices := marketdata.NewBarSource(brokerClient)

	engine := signal.NewEngine(registry, prices, mgr, log)
	handlers := signal.NewHandlers(engine, registry, log)

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 5m", registry); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "register model reload job")
	}

	srv := httpserver.New(httpserver.Config{
		Log: log, Port: cfg.Port, DevMode: cfg.DevMode,
		Mount: func(r chi.Router) { handlers.Mount(r) },
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.FatalExit(log, logger.ExitMisconfigured, err, "http server failed")
		}
	}()

	if err := sched.RunNow(registry); err != nil {
		log.Warn().Err(err).Msg("initial model load failed, waiting for next scheduled reload")
	}
	sched.Start()
	log.Info().Int("port", cfg.Port).Msg("signal service started")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down signal service")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("signal service stopped")
}
