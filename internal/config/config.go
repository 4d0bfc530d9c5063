package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/daap14/blueprints/internal/filter"
)

// Store backends accepted in STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	StoreBackend    string        `envconfig:"STORE_BACKEND" default:"memory"`
	StoreShards     int           `envconfig:"STORE_SHARDS" default:"32"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" default:""`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"blueprints.db"`
	Filter          string        `envconfig:"BLUEPRINT_FILTER" default:"identity"`
	WriteAPIKeyHash string        `envconfig:"WRITE_API_KEY_HASH" default:""`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FilterKind returns the configured filter. Load has already validated it.
func (c *Config) FilterKind() filter.Kind {
	k, _ := filter.ParseKind(c.Filter)
	return k
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
		if c.StoreShards <= 0 {
			return fmt.Errorf("STORE_SHARDS must be positive, got %d", c.StoreShards)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND is %q", BackendSQLite)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if _, err := filter.ParseKind(c.Filter); err != nil {
		return fmt.Errorf("BLUEPRINT_FILTER: %w", err)
	}
	return nil
}
