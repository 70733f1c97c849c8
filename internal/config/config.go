// Package config handles queryflux's engine-wide configuration, loaded from
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the defaults applied to every Store unless overridden by its
// own Options, plus the connection settings for the optional persistence
// and worker-bridge collaborators.
type Config struct {
	DefaultStaleTime time.Duration `env:"QUERYFLUX_DEFAULT_STALE_TIME" envDefault:"0s"`
	DefaultCacheTime time.Duration `env:"QUERYFLUX_DEFAULT_CACHE_TIME" envDefault:"168h"`
	MaxRetries       int           `env:"QUERYFLUX_MAX_RETRIES" envDefault:"3"`

	Redis    RedisConfig
	Postgres PostgresConfig

	DebugServerAddr string `env:"QUERYFLUX_DEBUG_ADDR" envDefault:":6060"`
}

// RedisConfig configures the optional asynq worker bridge.
type RedisConfig struct {
	Addr string `env:"QUERYFLUX_REDIS_ADDR"`
}

// PostgresConfig configures the optional Postgres persistence adapter.
type PostgresConfig struct {
	DSN string `env:"QUERYFLUX_DATABASE_URL"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("QUERYFLUX_MAX_RETRIES must be >= 0, got %d", cfg.MaxRetries)
	}
	return cfg, nil
}

// HasWorkerBridge reports whether enough configuration is present to wire
// the asynq-backed worker bridge.
func (c *Config) HasWorkerBridge() bool {
	return c.Redis.Addr != ""
}

// HasPostgres reports whether enough configuration is present to wire the
// Postgres persistence adapter.
func (c *Config) HasPostgres() bool {
	return c.Postgres.DSN != ""
}
