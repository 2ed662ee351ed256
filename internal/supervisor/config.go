package supervisor

import (
	"fmt"
	"time"

	"github.com/devlabo/sandboxd/internal/logger"
)

// Defaults applied by Normalize.
const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultRestartLimit   = 3
	DefaultHealthPath     = "/"
)

// Config describes one supervised dev-server process. It is immutable after
// registration. Port uniqueness across configs is the caller's responsibility;
// the registry only enforces name uniqueness.
type Config struct {
	Name           string            `json:"name" mapstructure:"name"`
	Command        []string          `json:"command" mapstructure:"command"`
	Port           int               `json:"port" mapstructure:"port"`
	WorkDir        string            `json:"workdir" mapstructure:"workdir"` // absolute, or relative to the workspace root
	StartupTimeout time.Duration     `json:"startup_timeout" mapstructure:"startup_timeout"`
	RestartLimit   int               `json:"restart_limit" mapstructure:"restart_limit"`
	HealthPath     string            `json:"health_path" mapstructure:"health_path"`
	Env            map[string]string `json:"env" mapstructure:"env"`
	Log            logger.Config     `json:"log" mapstructure:"log"`
}

// Normalize fills zero-valued fields with defaults and validates the rest.
func (c *Config) Normalize() error {
	if c.Name == "" {
		return fmt.Errorf("process config: name required")
	}
	if len(c.Command) == 0 {
		return fmt.Errorf("process %q: command required", c.Name)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("process %q: invalid port %d", c.Name, c.Port)
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.RestartLimit <= 0 {
		c.RestartLimit = DefaultRestartLimit
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	return nil
}

func (c *Config) healthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.Port, c.HealthPath)
}
