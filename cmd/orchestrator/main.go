// Command orchestrator runs the Orchestrator: maps the Signal
// Service's current signal set into sized orders and submits them
// through the Execution Gateway, one run per HTTP-triggered cycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/tradeplane/internal/config"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/httpserver"
	"github.com/aristath/tradeplane/internal/orchestrator"
	"github.com/aristath/tradeplane/internal/risk"
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
	log.Info().Msg("starting orchestrator")

	orchDB, err := storedb.Open(storedb.Config{Path: cfg.OrchestratorURL, Profile: storedb.ProfileStandard, Name: "orchestrator"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open orchestrator database")
	}
	defer orchDB.Close()
	if err := orchDB.Migrate(orchestrator.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate orchestrator database")
	}

	riskDB, err := storedb.Open(storedb.Config{Path: cfg.RiskStoreURL, Profile: storedb.ProfileRiskStore, Name: "riskstore"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open risk store")
	}
	defer riskDB.Close()
	if err := riskDB.Migrate(risk.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate risk store")
	}

	repo := orchestrator.NewRepository(orchDB.Conn())
	riskStore := risk.NewStore(riskDB.Conn())
	mgr := events.NewManager(events.NewBus(), log)

	signalClient := orchestrator.NewSignalClient(cfg.SignalServiceBaseURL)
	gatewayClient := orchestrator.NewGatewayClient(cfg.GatewayBaseURL)

	orch := orchestrator.New(signalClient, gatewayClient, riskStore, repo, mgr, orchestrator.Config{}, log)
	handlers := orchestrator.NewHandlers(orch, repo, log)

	srv := httpserver.New(httpserver.Config{
		Log: log, Port: cfg.Port, DevMode: cfg.DevMode,
		Mount: func(r chi.Router) { handlers.Mount(r) },
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.FatalExit(log, logger.ExitMisconfigured, err, "http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("orchestrator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("orchestrator stopped")
}
