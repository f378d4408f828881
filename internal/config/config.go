// Package config loads process configuration from environment variables
// (with an optional .env overlay), the same two-step load every service
// binary in this repository performs before constructing its
// dependencies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment-gated settings named in the trade
// control plane's external interface contract.
type Config struct {
	LogLevel   string
	LogPretty  bool
	Port       int
	DevMode    bool

	DryRun           bool
	WebhookSecret    string
	BrokerBaseURL    string
	BrokerAPIKey     string
	BrokerAPISecret  string
	DatabaseURL      string
	RiskStoreURL     string
	ModelRegistryURL string
	OrchestratorURL  string
	MarketDataURL    string

	// GatewayBaseURL and SignalServiceBaseURL are where the orchestrator
	// binary reaches the other two services; empty in-process defaults
	// assume all three run on localhost during development.
	GatewayBaseURL       string
	SignalServiceBaseURL string

	// ModelArtifactDir is the filesystem root model_registry.model_path
	// values are resolved under.
	ModelArtifactDir string

	// QuoteStreamURL is the broker's WebSocket endpoint for live quotes;
	// empty disables the quote stream, so the price cache gets no live
	// updates.
	QuoteStreamURL string

	// Symbols is the traded universe every service's background loops
	// (quote subscription, signal generation) operate over, parsed from
	// the comma-separated SYMBOLS environment variable.
	Symbols []string

	DailyLossLimit         float64
	QuietPeriodMinutes     int
	ReconciliationInterval time.Duration
	ModelReloadInterval    time.Duration
	ReservationSweepInterval time.Duration

	// PositionLimits maps symbol -> absolute share quantity limit, parsed
	// from POSITION_LIMIT_<SYMBOL> environment variables.
	PositionLimits map[string]int64
	// DefaultPositionLimit applies to any symbol absent from
	// PositionLimits; zero means "no position allowed" until an
	// operator configures the symbol explicitly (fail closed).
	DefaultPositionLimit int64

	// Fat-finger warn/reject bands applied to every order regardless of
	// symbol. Zero disables a given check.
	FatFingerWarnNotional   float64
	FatFingerRejectNotional float64
	FatFingerWarnQty        int64
	FatFingerRejectQty      int64

	// TradeDateTimezone names the IANA zone used to compute the broker
	// session date boundary for client_order_id derivation. Defaults to
	// UTC; spec.md leaves this overridable by config.
	TradeDateTimezone string

	// BackupBucket, when set, enables the optional S3/R2 ledger backup
	// component. Empty disables it.
	BackupBucket        string
	BackupRegion        string
	BackupEndpoint      string
	BackupAccessKey     string
	BackupSecretKey     string
	BackupRetentionDays int
	BackupIntervalHours int
}

// Load reads a .env file (if present) then overlays process environment
// variables, mirroring the teacher's godotenv-then-getenv load order.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("PORT", 8080),
		DevMode:   getEnvAsBool("DEV_MODE", false),

		DryRun:          getEnvAsBool("DRY_RUN", true),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", ""),
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "./data/ledger.db"),
		RiskStoreURL:    getEnv("RISK_STORE_URL", "./data/riskstore.db"),
		ModelRegistryURL: getEnv("MODEL_REGISTRY_URL", "./data/models.db"),
		OrchestratorURL:  getEnv("ORCHESTRATOR_DB_URL", "./data/orchestrator.db"),
		MarketDataURL:    getEnv("MARKET_DATA_URL", "./data/marketdata.db"),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "http://localhost:8081"),
		SignalServiceBaseURL: getEnv("SIGNAL_SERVICE_BASE_URL", "http://localhost:8082"),

		ModelArtifactDir: getEnv("MODEL_ARTIFACT_DIR", "./data/models"),
		QuoteStreamURL:   getEnv("QUOTE_STREAM_URL", ""),
		Symbols:          parseSymbols(),

		DailyLossLimit:           getEnvAsFloat("DAILY_LOSS_LIMIT", 0),
		QuietPeriodMinutes:       getEnvAsInt("QUIET_PERIOD_MINUTES", 30),
		ReconciliationInterval:   time.Duration(getEnvAsInt("RECONCILIATION_INTERVAL_SECONDS", 60)) * time.Second,
		ModelReloadInterval:      time.Duration(getEnvAsInt("MODEL_RELOAD_INTERVAL_SECONDS", 300)) * time.Second,
		ReservationSweepInterval: time.Duration(getEnvAsInt("RESERVATION_SWEEP_INTERVAL_SECONDS", 30)) * time.Second,

		PositionLimits:       parsePositionLimits(),
		DefaultPositionLimit: getEnvAsInt64("DEFAULT_POSITION_LIMIT", 0),

		FatFingerWarnNotional:   getEnvAsFloat("FAT_FINGER_WARN_NOTIONAL", 0),
		FatFingerRejectNotional: getEnvAsFloat("FAT_FINGER_REJECT_NOTIONAL", 0),
		FatFingerWarnQty:        getEnvAsInt64("FAT_FINGER_WARN_QTY", 0),
		FatFingerRejectQty:      getEnvAsInt64("FAT_FINGER_REJECT_QTY", 0),

		TradeDateTimezone: getEnv("TRADE_DATE_TIMEZONE", "UTC"),

		BackupBucket:        getEnv("BACKUP_BUCKET", ""),
		BackupRegion:        getEnv("BACKUP_REGION", "auto"),
		BackupEndpoint:      getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		BackupIntervalHours: getEnvAsInt("BACKUP_INTERVAL_HOURS", 24),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the one hard startup requirement named in spec.md
// §9: a missing webhook secret while DRY_RUN=false is a misconfiguration,
// not a silent warning.
func (c *Config) Validate() error {
	if !c.DryRun && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when DRY_RUN=false")
	}
	if !c.DryRun && c.BrokerBaseURL == "" {
		return fmt.Errorf("BROKER_BASE_URL is required when DRY_RUN=false")
	}
	return nil
}

func parsePositionLimits() map[string]int64 {
	limits := make(map[string]int64)
	const prefix = "POSITION_LIMIT_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		symbol := strings.TrimPrefix(parts[0], prefix)
		if symbol == "" {
			continue
		}
		limit, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		limits[symbol] = limit
	}
	return limits
}

func parseSymbols() []string {
	raw := os.Getenv("SYMBOLS")
	if raw == "" {
		return nil
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
