// Package sandbox assembles one project sandbox: workspace directories and
// scaffolds, the process supervisor, the history store, and the gateway
// server, with ordered startup and teardown.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devlabo/sandboxd/internal/config"
	"github.com/devlabo/sandboxd/internal/gateway"
	"github.com/devlabo/sandboxd/internal/history"
	"github.com/devlabo/sandboxd/internal/history/factory"
	"github.com/devlabo/sandboxd/internal/metrics"
	"github.com/devlabo/sandboxd/internal/supervisor"
	"github.com/devlabo/sandboxd/internal/workspace"
)

const stopBudget = 10 * time.Second

// Controller owns the lifecycle of one sandbox instance.
type Controller struct {
	cfg    *config.FileConfig
	logger *slog.Logger

	sup   *supervisor.Supervisor
	files *workspace.Local
	gw    *gateway.Gateway
	sink  history.Sink
}

// New builds a controller from a loaded config. Nothing is started yet.
func New(cfg *config.FileConfig, lg *slog.Logger) (*Controller, error) {
	if lg == nil {
		lg = slog.Default()
	}

	sup := supervisor.New(cfg.Workspace, lg)
	sink, err := factory.New(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	if sink != nil {
		sup.SetHistorySinks(sink)
	}

	for i := range cfg.Processes {
		pc := cfg.Processes[i]
		if pc.Log.Dir == "" {
			pc.Log = cfg.Log
		}
		if err := sup.Register(pc); err != nil {
			return nil, err
		}
	}

	return &Controller{
		cfg:    cfg,
		logger: lg,
		sup:    sup,
		files:  workspace.NewLocal(cfg.Workspace),
		gw:     gateway.New(cfg.Gateway.Routes, sup, cfg.Gateway.ClientTimeout, lg),
		sink:   sink,
	}, nil
}

// Supervisor exposes the process supervisor, e.g. for status commands.
func (c *Controller) Supervisor() *supervisor.Supervisor { return c.sup }

// Run provisions the workspace, starts every process, and serves the gateway
// until ctx is canceled. Teardown order is the reverse of startup: gateway
// first so no request arrives on half-stopped backends, then the processes,
// then the history store.
func (c *Controller) Run(ctx context.Context) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := c.files.EnsureScopeDirs(); err != nil {
		return fmt.Errorf("workspace dirs: %w", err)
	}
	if err := writeScaffolds(c.cfg.Workspace); err != nil {
		return fmt.Errorf("workspace scaffolds: %w", err)
	}
	c.logger.Info("workspace ready", "root", c.cfg.Workspace, "user", c.cfg.User, "project", c.cfg.Project)

	results := c.sup.StartAll()
	for name, ok := range results {
		if !ok {
			c.logger.Warn("process failed to start", "name", name)
		}
	}

	router := gateway.NewRouter(c.gw, c.files).WithProcesses(c.sup)
	if rd, ok := c.sink.(history.Reader); ok {
		router.WithHistory(rd)
	}
	server := &http.Server{
		Addr:              c.cfg.Gateway.Listen,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c.logger.Info("gateway listening", "addr", c.cfg.Gateway.Listen)
		errc <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	c.logger.Info("sandbox shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	c.sup.StopAll(stopBudget)
	c.sup.Close()
	c.gw.Close()
	if c.sink != nil {
		_ = c.sink.Close()
	}
	c.logger.Info("sandbox shutdown complete")
	return serveErr
}
