package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/warp/trip-settlements/ledger"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "settlements.db", cfg.DBPath)
	assert.True(t, cfg.CommissionRate().Equal(ledger.NewMoney(10)))
	assert.Equal(t, 30*time.Second, cfg.SettlementCacheTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.LogDevelopment)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("GLOBAL_COMMISSION_RATE", "12.5")
	t.Setenv("SETTLEMENT_CACHE_TTL", "5s")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000,https://admin.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.True(t, cfg.CommissionRate().Equal(ledger.NewMoney(12.5)))
	assert.Equal(t, 5*time.Second, cfg.SettlementCacheTTL)
	assert.Equal(t, []string{"http://localhost:3000", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"rate above 100", "GLOBAL_COMMISSION_RATE", "101"},
		{"negative rate", "GLOBAL_COMMISSION_RATE", "-1"},
		{"rate not a number", "GLOBAL_COMMISSION_RATE", "ten"},
		{"bad port", "PORT", "0"},
		{"unknown level", "LOG_LEVEL", "loud"},
		{"unparseable ttl", "SETTLEMENT_CACHE_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_CommissionRateKeepsExactDigits(t *testing.T) {
	t.Setenv("GLOBAL_COMMISSION_RATE", "7.1234567890123456789")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "7.1234567890123456789", cfg.CommissionRate().String())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	dev, err := NewLogger(Config{LogLevel: "debug", LogDevelopment: true})
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}
