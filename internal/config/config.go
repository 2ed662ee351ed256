// Package config loads the sandboxd TOML configuration: the workspace root,
// the gateway listener and route table, the supervised process list, and the
// optional history store.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/devlabo/sandboxd/internal/gateway"
	"github.com/devlabo/sandboxd/internal/history/factory"
	"github.com/devlabo/sandboxd/internal/logger"
	"github.com/devlabo/sandboxd/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Workspace string              `toml:"workspace" mapstructure:"workspace"`
	User      string              `toml:"user" mapstructure:"user"`
	Project   string              `toml:"project" mapstructure:"project"`
	Gateway   GatewayConfig       `toml:"gateway" mapstructure:"gateway"`
	Log       logger.Config       `toml:"log" mapstructure:"log"`
	History   factory.Config      `toml:"history" mapstructure:"history"`
	Processes []supervisor.Config `toml:"processes" mapstructure:"processes"`
}

type GatewayConfig struct {
	Listen        string         `toml:"listen" mapstructure:"listen"`
	ClientTimeout time.Duration  `toml:"client_timeout" mapstructure:"client_timeout"`
	Routes        map[string]int `toml:"routes" mapstructure:"routes"`
}

// Load reads and validates the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.applyDefaults()
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Workspace == "" {
		fc.Workspace = "/workspace"
	}
	if fc.Gateway.Listen == "" {
		fc.Gateway.Listen = ":8000"
	}
	if fc.Gateway.ClientTimeout <= 0 {
		fc.Gateway.ClientTimeout = 30 * time.Second
	}
	if len(fc.Gateway.Routes) == 0 {
		fc.Gateway.Routes = gateway.DefaultRoutes()
	}
}

// Validate normalizes every process config and rejects duplicate names and
// duplicate ports. Port uniqueness is enforced here, not in the registry;
// a config that clears loading is safe to register as-is.
func (fc *FileConfig) Validate() error {
	names := make(map[string]struct{}, len(fc.Processes))
	ports := make(map[int]string, len(fc.Processes))
	for i := range fc.Processes {
		p := &fc.Processes[i]
		if err := p.Normalize(); err != nil {
			return err
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate process name %q", p.Name)
		}
		names[p.Name] = struct{}{}
		if other, dup := ports[p.Port]; dup {
			return fmt.Errorf("process %q: port %d already used by %q", p.Name, p.Port, other)
		}
		ports[p.Port] = p.Name
	}
	for module, port := range fc.Gateway.Routes {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("route %q: invalid port %d", module, port)
		}
	}
	return nil
}
