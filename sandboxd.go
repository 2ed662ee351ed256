// Package sandboxd provisions a per-project development sandbox: it
// supervises the dev-server subprocesses, confines file access to workspace
// scopes, and fronts everything with an HTTP/WebSocket proxy gateway.
package sandboxd

import (
	"io"
	"log/slog"
	"time"

	"github.com/devlabo/sandboxd/internal/config"
	"github.com/devlabo/sandboxd/internal/gateway"
	"github.com/devlabo/sandboxd/internal/history"
	"github.com/devlabo/sandboxd/internal/logger"
	"github.com/devlabo/sandboxd/internal/sandbox"
	"github.com/devlabo/sandboxd/internal/supervisor"
	"github.com/devlabo/sandboxd/internal/workspace"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.FileConfig

type ProcessConfig = supervisor.Config

type StatusRecord = supervisor.StatusRecord

type Controller = sandbox.Controller

type Routes = gateway.Routes

type HistorySink = history.Sink

// WorkspaceAccessor is the scoped file and shell surface. Use
// NewLocalWorkspace against the filesystem or NewRemoteWorkspace against a
// running gateway.
type WorkspaceAccessor = workspace.Accessor

// New builds a sandbox controller from a loaded config.
func New(cfg *Config, lg *slog.Logger) (*Controller, error) {
	return sandbox.New(cfg, lg)
}

// LoadConfig reads and validates the TOML config at path.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewLogger returns a slog logger writing to w at the given level.
func NewLogger(w io.Writer, level string, color bool) *slog.Logger {
	return logger.New(w, level, color)
}

// NewSupervisor returns a standalone process supervisor rooted at the
// workspace directory, for embedders that bring their own gateway.
func NewSupervisor(workspaceDir string, lg *slog.Logger) *supervisor.Supervisor {
	return supervisor.New(workspaceDir, lg)
}

// NewLocalWorkspace returns a scoped accessor over the local filesystem.
func NewLocalWorkspace(root string) *workspace.Local { return workspace.NewLocal(root) }

// NewRemoteWorkspace returns a scoped accessor speaking to a gateway's files
// API at baseURL.
func NewRemoteWorkspace(baseURL string, timeout time.Duration) *workspace.RPC {
	return workspace.NewRPC(baseURL, timeout)
}

// DefaultRoutes returns the built-in module route table.
func DefaultRoutes() Routes { return gateway.DefaultRoutes() }
