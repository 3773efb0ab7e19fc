/*
Package config loads server settings from the environment.

ENVIRONMENT:
  PORT                    HTTP port (default 8080)
  DB_PATH                 SQLite path, ":memory:" allowed (default settlements.db)
  GLOBAL_COMMISSION_RATE  platform rate in percent, 0-100 (default 10)
  SETTLEMENT_CACHE_TTL    how long an aggregation is served (default 30s)
  LOG_LEVEL               debug, info, warn, error (default info)
  LOG_DEVELOPMENT         human-readable console logs (default false)
  CORS_ORIGINS            comma separated allowed origins (default *)

The global rate only seeds platform settings on first start. After that the
stored value wins and is changed through PUT /api/settings/commission.
*/
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/warp/trip-settlements/ledger"
)

type Config struct {
	Port                 int           `envconfig:"PORT" default:"8080"`
	DBPath               string        `envconfig:"DB_PATH" default:"settlements.db"`
	GlobalCommissionRate string        `envconfig:"GLOBAL_COMMISSION_RATE" default:"10"`
	SettlementCacheTTL   time.Duration `envconfig:"SETTLEMENT_CACHE_TTL" default:"30s"`
	LogLevel             string        `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment       bool          `envconfig:"LOG_DEVELOPMENT" default:"false"`
	CORSOrigins          []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("failed to read environment: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &ledger.ValidationError{Field: "PORT", Message: fmt.Sprintf("out of range: %d", c.Port)}
	}
	if c.DBPath == "" {
		return &ledger.ValidationError{Field: "DB_PATH", Message: "is required"}
	}
	rate, err := decimal.NewFromString(c.GlobalCommissionRate)
	if err != nil {
		return &ledger.ValidationError{Field: "GLOBAL_COMMISSION_RATE", Message: fmt.Sprintf("not a number: %q", c.GlobalCommissionRate)}
	}
	if !ledger.ValidRate(rate) {
		return &ledger.ValidationError{Field: "GLOBAL_COMMISSION_RATE", Message: "must be between 0 and 100"}
	}
	if c.SettlementCacheTTL < 0 {
		return &ledger.ValidationError{Field: "SETTLEMENT_CACHE_TTL", Message: "must not be negative"}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// CommissionRate returns the configured global rate. Call Validate first; an
// unparseable rate reads as zero.
func (c Config) CommissionRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.GlobalCommissionRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}
