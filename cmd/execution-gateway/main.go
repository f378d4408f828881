// Command execution-gateway runs the Execution Gateway: the only
// process in the trade control plane allowed to submit orders to the
// broker. It owns the ledger database, the shared risk store, the
// broker client, and (optionally) the quote stream and ledger backup
// loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/backup"
	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/config"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/execution"
	"github.com/aristath/tradeplane/internal/httpserver"
	"github.com/aristath/tradeplane/internal/ledger"
	"github.com/aristath/tradeplane/internal/maintenance"
	"github.com/aristath/tradeplane/internal/marketdata"
	"github.com/aristath/tradeplane/internal/reconciliation"
	"github.com/aristath/tradeplane/internal/risk"
	"github.com/aristath/tradeplane/internal/scheduler"
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
	log.Info().Msg("starting execution gateway")

	ledgerDB, err := storedb.Open(storedb.Config{Path: cfg.DatabaseURL, Profile: storedb.ProfileLedger, Name: "ledger"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open ledger database")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(ledger.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate ledger database")
	}

	riskDB, err := storedb.Open(storedb.Config{Path: cfg.RiskStoreURL, Profile: storedb.ProfileRiskStore, Name: "riskstore"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open risk store")
	}
	defer riskDB.Close()
	if err := riskDB.Migrate(risk.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate risk store")
	}

	marketDB, err := storedb.Open(storedb.Config{Path: cfg.MarketDataURL, Profile: storedb.ProfileStandard, Name: "marketdata"})
	if err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "open market data store")
	}
	defer marketDB.Close()
	if err := marketDB.Migrate(marketdata.Schema); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "migrate market data store")
	}

	repo := ledger.NewRepository(ledgerDB.Conn())
	riskStore := risk.NewStore(riskDB.Conn())
	bus := events.NewBus()
	mgr := events.NewManager(bus, log)

	brokerClient := broker.NewHTTPClient(broker.Config{
		BaseURL: cfg.BrokerBaseURL,
		APIKey:  cfg.BrokerAPIKey,
		Secret:  cfg.BrokerAPISecret,
	}, log)

	gateway := execution.New(repo, riskStore, brokerClient, mgr, execution.Config{
		DryRun:               cfg.DryRun,
		PositionLimits:       cfg.PositionLimits,
		DefaultPositionLimit: cfg.DefaultPositionLimit,
		FatFinger: execution.FatFingerThresholds{
			WarnNotional:   cfg.FatFingerWarnNotional,
			RejectNotional: cfg.FatFingerRejectNotional,
			WarnQty:        cfg.FatFingerWarnQty,
			RejectQty:      cfg.FatFingerRejectQty,
		},
		TradeDate: tradeDateFunc(cfg.TradeDateTimezone, log),
	}, log)

	reconEngine := reconciliation.NewEngine(repo, riskStore, brokerClient, mgr, reconciliation.Config{}, log)

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 1m", reconEngine); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "register reconciliation job")
	}
	if err := sched.AddJob("@every 30s", risk.NewSweepJob(riskStore, log)); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "register reservation sweep job")
	}

	maintJob := maintenance.New([]maintenance.NamedDB{
		{Name: "ledger", DB: ledgerDB.Conn(), Append: true},
		{Name: "riskstore", DB: riskDB.Conn()},
		{Name: "marketdata", DB: marketDB.Conn()},
	}, maintenance.Config{DataDir: filepath.Dir(cfg.DatabaseURL)}, log)
	if err := sched.AddJob("0 0 3 * * *", maintJob); err != nil {
		logger.FatalExit(log, logger.ExitMisconfigured, err, "register maintenance job")
	}

	if cfg.BackupBucket != "" {
		s3Client, err := backup.NewS3Client(context.Background(), backup.S3Config{
			Bucket: cfg.BackupBucket, Region: cfg.BackupRegion, Endpoint: cfg.BackupEndpoint,
			AccessKey: cfg.BackupAccessKey, SecretKey: cfg.BackupSecretKey,
		})
		if err != nil {
			logger.FatalExit(log, logger.ExitMisconfigured, err, "build backup client")
		}
		backupSvc := backup.NewService(s3Client, []backup.NamedDB{
			{Name: "ledger", DB: ledgerDB.Conn()},
			{Name: "riskstore", DB: riskDB.Conn()},
		}, backup.Config{StagingDir: os.TempDir(), RetentionDays: cfg.BackupRetentionDays}, log)
		schedule := fmt.Sprintf("@every %dh", cfg.BackupIntervalHours)
		if err := sched.AddJob(schedule, backupSvc); err != nil {
			logger.FatalExit(log, logger.ExitMisconfigured, err, "register backup job")
		}
		log.Info().Str("bucket", cfg.BackupBucket).Msg("ledger backup enabled")
	}

	var quoteStream *marketdata.QuoteStream
	if cfg.QuoteStreamURL != "" && len(cfg.Symbols) > 0 {
		cache := marketdata.NewCache(marketDB.Conn())
		if n, err := cache.WarmFromDisk(); err != nil {
			log.Warn().Err(err).Msg("failed to warm quote cache from disk")
		} else {
			log.Info().Int("quotes", n).Msg("quote cache warmed from disk")
		}
		quoteStream = marketdata.NewQuoteStream(cfg.QuoteStreamURL, cfg.Symbols, cache, riskStore, mgr, log)
		if err := quoteStream.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start quote stream")
		}
	}

	orderHandlers := execution.NewHandlers(gateway, repo, cfg.WebhookSecret, log)
	reconHandlers := reconciliation.NewHandlers(reconEngine, log)

	srv := httpserver.New(httpserver.Config{
		Log: log, Port: cfg.Port, DevMode: cfg.DevMode,
		Mount: func(r chi.Router) {
			orderHandlers.Mount(r)
			reconHandlers.Mount(r)
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.FatalExit(log, logger.ExitMisconfigured, err, "http server failed")
		}
	}()

	// Run one reconciliation cycle before lifting the startup gate, so
	// the gateway never accepts an order before local state has been
	// checked against the broker at least once. A broker outage at boot
	// is retried with backoff; if it never clears, the process exits 3
	// rather than silently opening the gate on a failed cycle.
	go runStartupReconciliation(reconEngine, gateway, log)

	sched.Start()
	log.Info().Int("port", cfg.Port).Msg("execution gateway started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down execution gateway")
	sched.Stop()
	if quoteStream != nil {
		if err := quoteStream.Stop(); err != nil {
			log.Error().Err(err).Msg("error stopping quote stream")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("execution gateway stopped")
}

// startupReconciliationMaxAttempts bounds how long the gateway waits for
// the broker to become reachable at boot before giving up and exiting 3.
const startupReconciliationMaxAttempts = 5

// runStartupReconciliation runs reconEngine until it succeeds once,
// backing off between attempts, then lifts gateway's startup gate. If
// the broker never becomes reachable it exits the process with code 3
// instead of opening the gate on a cycle that never actually ran.
func runStartupReconciliation(reconEngine *reconciliation.Engine, gateway *execution.Gateway, log zerolog.Logger) {
	backoff := 2 * time.Second
	for attempt := 1; attempt <= startupReconciliationMaxAttempts; attempt++ {
		if err := reconEngine.Run(context.Background()); err == nil {
			gateway.MarkReconciled()
			log.Info().Msg("startup reconciliation complete, gateway accepting orders")
			return
		} else if attempt == startupReconciliationMaxAttempts {
			logger.FatalExit(log, logger.ExitStartupGateFailed, err, "startup reconciliation never succeeded, refusing to open the gate")
		} else {
			log.Error().Err(err).Int("attempt", attempt).Msg("startup reconciliation cycle failed, retrying")
			time.Sleep(backoff)
			backoff *= 2
		}
	}
}

func tradeDateFunc(timezone string, log zerolog.Logger) func() string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", timezone).Msg("invalid TRADE_DATE_TIMEZONE, defaulting to UTC")
		loc = time.UTC
	}
	return func() string { return time.Now().In(loc).Format("2006-01-02") }
}
