package factory

import (
	"fmt"

	"github.com/devlabo/sandboxd/internal/history"
	"github.com/devlabo/sandboxd/internal/history/postgres"
	"github.com/devlabo/sandboxd/internal/history/sqlite"
)

// Config selects a history backend. Driver is "sqlite", "postgres", or ""
// (history disabled).
type Config struct {
	Driver string `json:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

// New returns a sink for cfg, or (nil, nil) when history is disabled.
func New(cfg Config) (history.Sink, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver: %s", cfg.Driver)
	}
}
