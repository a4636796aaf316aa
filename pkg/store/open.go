package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`      // file backend, and default sqlite location
	Path          string        `mapstructure:"path"`     // sqlite database file
	DSN           string        `mapstructure:"dsn"`      // postgres
	Capacity      int           `mapstructure:"capacity"` // memory
	Retention     time.Duration `mapstructure:"retention"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// Open builds the configured backend, instrumented with metrics and spans.
func Open(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case BackendMemory:
		s, err = NewMemoryStore(cfg.Capacity)
	case BackendFile:
		s, err = NewFileStore(cfg.Dir)
	case BackendSQLite:
		path := cfg.Path
		if path == "" && cfg.Dir != "" {
			path = filepath.Join(cfg.Dir, "sessions.db")
		}
		s, err = NewSQLiteStore(path)
	case BackendPostgres:
		s, err = NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}

	return instrument(backend, s), nil
}
