package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "UTC", cfg.TradeDateTimezone)
}

func TestValidate_RequiresWebhookSecretWhenLive(t *testing.T) {
	cfg := &Config{DryRun: false, BrokerBaseURL: "https://broker.example"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")
}

func TestValidate_RequiresBrokerURLWhenLive(t *testing.T) {
	cfg := &Config{DryRun: false, WebhookSecret: "shh"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKER_BASE_URL")
}

func TestParsePositionLimits(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSITION_LIMIT_AAPL", "500")
	t.Setenv("POSITION_LIMIT_MSFT", "250")

	limits := parsePositionLimits()
	assert.Equal(t, int64(500), limits["AAPL"])
	assert.Equal(t, int64(250), limits["MSFT"])
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DRY_RUN", "WEBHOOK_SECRET", "BROKER_BASE_URL", "LOG_LEVEL", "PORT",
		"DATABASE_URL", "RISK_STORE_URL",
	} {
		os.Unsetenv(key)
	}
}
