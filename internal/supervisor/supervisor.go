// Package supervisor owns the lifecycle of the sandbox's dev-server
// subprocesses: spawn, health confirmation via HTTP polling, crash detection
// with bounded exponential-backoff restarts, and graceful group shutdown.
//
// Lifecycle failures (spawn errors, health timeouts, restart-limit
// exhaustion) are recorded in per-process state and surfaced through the
// status accessors; they are never returned as errors from lifecycle methods.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devlabo/sandboxd/internal/history"
	"github.com/devlabo/sandboxd/internal/metrics"
)

// ErrDuplicateName is returned by Register for an already-registered name.
var ErrDuplicateName = errors.New("process name already registered")

const (
	healthPollInterval = 500 * time.Millisecond
	probeTimeout       = 2 * time.Second
	checkTimeout       = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// Supervisor manages a registry of named subprocesses. The registry is
// insertion-only; register everything before StartAll.
type Supervisor struct {
	workspace string
	logger    *slog.Logger
	client    *http.Client

	mu    sync.RWMutex
	procs map[string]*managedProcess
	order []string
	sinks []history.Sink

	shutdown     chan struct{}
	shutdownOnce sync.Once
	monitorDone  chan struct{}
	monitorOn    bool

	// Tunable in tests; defaults are fixed by the reference behavior.
	monitorInterval time.Duration
	backoff         func(attempt int) time.Duration
}

// New creates a Supervisor rooted at workspace. Relative process working
// directories resolve against it.
func New(workspace string, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		workspace: workspace,
		logger:    log,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		procs:           make(map[string]*managedProcess),
		shutdown:        make(chan struct{}),
		monitorDone:     make(chan struct{}),
		monitorInterval: 5 * time.Second,
		backoff:         defaultBackoff,
	}
}

func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// SetHistorySinks configures lifecycle event sinks. Call before StartAll.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Supervisor) emit(typ history.EventType, name string, pid int, detail string) {
	s.mu.RLock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{Type: typ, Name: name, PID: pid, Detail: detail, OccurredAt: time.Now().UTC()}
	for _, snk := range sinks {
		_ = snk.Send(context.Background(), evt)
	}
}

// Register adds a process config in the stopped status. Registering a name
// twice fails with ErrDuplicateName; the registry keeps the first config.
func (s *Supervisor) Register(cfg Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, cfg.Name)
	}
	s.procs[cfg.Name] = newManagedProcess(cfg)
	s.order = append(s.order, cfg.Name)
	s.logger.Info("registered process", "name", cfg.Name, "port", cfg.Port)
	return nil
}

func (s *Supervisor) get(name string) *managedProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.procs[name]
}

func (s *Supervisor) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// resolveWorkDir returns the absolute working directory for cfg, creating it
// when absent.
func (s *Supervisor) resolveWorkDir(cfg Config) (string, error) {
	cwd := s.workspace
	if cfg.WorkDir != "" {
		if filepath.IsAbs(cfg.WorkDir) {
			cwd = cfg.WorkDir
		} else {
			cwd = filepath.Join(s.workspace, cfg.WorkDir)
		}
	}
	if err := os.MkdirAll(cwd, 0o750); err != nil {
		return "", err
	}
	return cwd, nil
}

// Start spawns the named process in its own process group. It is idempotent:
// starting a running process with a live handle returns true without
// respawning. Spawn failures set the failed status and return false; they are
// not raised.
func (s *Supervisor) Start(name string) bool {
	p := s.get(name)
	if p == nil {
		s.logger.Error("start: unknown process", "name", name)
		return false
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return s.startLocked(p)
}

// startLocked performs the spawn. Caller holds p.opMu.
func (s *Supervisor) startLocked(p *managedProcess) bool {
	if p.getStatus() == StatusRunning {
		if done, _ := p.exited(); !done {
			s.logger.Debug("process already running", "name", p.cfg.Name)
			return true
		}
	}

	cwd, err := s.resolveWorkDir(p.cfg)
	if err != nil {
		p.setFailed(fmt.Sprintf("workdir: %v", err))
		s.logger.Error("failed to prepare workdir", "name", p.cfg.Name, "error", err)
		return false
	}

	p.setStatus(StatusStarting)
	cmd, outW, errW := p.configureCmd(cwd)
	if err := cmd.Start(); err != nil {
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
		p.setFailed(err.Error())
		s.logger.Error("failed to start process", "name", p.cfg.Name, "error", err)
		return false
	}
	p.markStarted(cmd, outW, errW)
	metrics.IncStart(p.cfg.Name)
	s.emit(history.EventStart, p.cfg.Name, cmd.Process.Pid, "")
	s.logger.Info("started process", "name", p.cfg.Name, "pid", cmd.Process.Pid, "port", p.cfg.Port)
	return true
}

// WaitHealthy polls the process's health URL every 500ms until it answers
// with a status below 500, the process exits, or the startup timeout elapses.
func (s *Supervisor) WaitHealthy(name string) bool {
	p := s.get(name)
	if p == nil {
		return false
	}
	return s.waitHealthy(p)
}

func (s *Supervisor) waitHealthy(p *managedProcess) bool {
	url := p.cfg.healthURL()
	deadline := time.Now().Add(p.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		// A dead process will never come up; stop polling immediately.
		if done, code := p.exited(); done {
			p.setFailed(fmt.Sprintf("process exited with code %d", code))
			s.logger.Error("process died during startup", "name", p.cfg.Name, "exit_code", code)
			return false
		}
		if s.probe(url, probeTimeout) {
			p.setStatus(StatusRunning)
			s.logger.Info("process is healthy", "name", p.cfg.Name, "port", p.cfg.Port)
			return true
		}
		select {
		case <-time.After(healthPollInterval):
		case <-s.shutdown:
			return false
		}
	}
	p.setFailed(fmt.Sprintf("startup timeout after %s", p.cfg.StartupTimeout))
	s.logger.Error("process failed health check", "name", p.cfg.Name, "timeout", p.cfg.StartupTimeout)
	return false
}

// probe issues one GET with its own timeout. Any response below 500 counts
// as healthy; transport errors count as unhealthy.
func (s *Supervisor) probe(url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}

// StartAll starts every registered process in registration order and waits
// for each to become healthy before moving on. Once at least one process is
// healthy it launches the background monitor exactly once.
func (s *Supervisor) StartAll() map[string]bool {
	results := make(map[string]bool)
	for _, name := range s.names() {
		if s.Start(name) {
			results[name] = s.WaitHealthy(name)
		} else {
			results[name] = false
		}
	}

	any := false
	for _, ok := range results {
		any = any || ok
	}
	s.mu.Lock()
	if any && !s.monitorOn {
		s.monitorOn = true
		go s.monitorLoop()
	}
	s.mu.Unlock()
	return results
}

// monitorLoop watches for unexpected exits every monitorInterval and restarts
// crashed processes with exponential backoff until their restart limit is
// exhausted. It exits when shutdown is signaled; the backoff sleep is
// interruptible so shutdown is never delayed by a pending restart.
func (s *Supervisor) monitorLoop() {
	defer close(s.monitorDone)
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
		}
		for _, name := range s.names() {
			p := s.get(name)
			if p.getStatus() == StatusStopped {
				continue
			}
			if !p.hasHandle() {
				// Abandoned after restart-limit exhaustion, or never spawned.
				continue
			}
			done, code := p.exited()
			if !done {
				continue
			}
			if !s.restartCrashed(p, code) {
				return // shutdown observed during backoff
			}
		}
	}
}

// restartCrashed handles one observed exit. Returns false only when shutdown
// interrupted the backoff sleep.
func (s *Supervisor) restartCrashed(p *managedProcess, code int) bool {
	name := p.cfg.Name
	s.logger.Warn("process exited", "name", name, "exit_code", code)

	p.mu.Lock()
	limit := p.cfg.RestartLimit
	if p.restarts >= limit {
		p.mu.Unlock()
		p.setFailed(fmt.Sprintf("exceeded restart limit (%d)", limit))
		// Abandon the handle so the loop stops considering this process.
		p.dropHandle()
		metrics.IncFailure(name)
		s.emit(history.EventFailed, name, 0, "restart limit exceeded")
		s.logger.Error("process exceeded restart limit", "name", name, "limit", limit)
		return true
	}
	p.restarts++
	attempt := p.restarts
	p.mu.Unlock()

	wait := s.backoff(attempt)
	s.logger.Info("restarting process", "name", name, "attempt", attempt, "limit", limit, "backoff", wait)
	select {
	case <-time.After(wait):
	case <-s.shutdown:
		return false
	}

	p.opMu.Lock()
	if s.startLocked(p) {
		metrics.IncRestart(name)
		s.emit(history.EventRestart, name, p.pid(), fmt.Sprintf("attempt %d", attempt))
		if s.waitHealthy(p) {
			// Health-confirmed restart resets the consecutive-failure budget.
			p.mu.Lock()
			p.restarts = 0
			p.mu.Unlock()
		}
	}
	p.opMu.Unlock()
	return true
}

// HealthCheck probes the named process once with a 5s budget. It never
// mutates state and treats any transport failure as unhealthy.
func (s *Supervisor) HealthCheck(name string) bool {
	p := s.get(name)
	if p == nil {
		return false
	}
	if done, _ := p.exited(); done {
		return false
	}
	return s.probe(p.cfg.healthURL(), checkTimeout)
}

// Stop gracefully stops the named process: SIGTERM to the process group,
// 100ms exit polling for the grace period, then SIGKILL. Returns false when
// the process was never started; a process that already exited externally
// counts as stopped successfully.
func (s *Supervisor) Stop(name string, grace time.Duration) bool {
	p := s.get(name)
	if p == nil {
		return false
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return s.stopLocked(p, grace)
}

func (s *Supervisor) stopLocked(p *managedProcess, grace time.Duration) bool {
	if !p.hasHandle() {
		return false
	}
	if done, _ := p.exited(); done {
		p.setStatus(StatusStopped)
		return true
	}
	pid := p.pid()
	s.logger.Info("stopping process", "name", p.cfg.Name, "pid", pid)
	p.terminate(grace)
	p.setStatus(StatusStopped)
	metrics.IncStop(p.cfg.Name)
	s.emit(history.EventStop, p.cfg.Name, pid, "")
	return true
}

// StopAll signals the monitor loop, waits briefly for it to exit, then stops
// every process, dividing the total grace budget evenly.
func (s *Supervisor) StopAll(total time.Duration) {
	s.shutdownOnce.Do(func() { close(s.shutdown) })

	s.mu.Lock()
	running := s.monitorOn
	s.mu.Unlock()
	if running {
		select {
		case <-s.monitorDone:
		case <-time.After(2 * time.Second):
			// The loop only blocks on interruptible sleeps; give up waiting.
		}
	}

	names := s.names()
	if len(names) == 0 {
		return
	}
	per := total / time.Duration(len(names))
	for _, name := range names {
		s.Stop(name, per)
	}
	s.logger.Info("all processes stopped")
}

// Restart stops (if needed) and starts the named process, waiting for it to
// come up healthy. It clears a permanent failed state and resets the restart
// budget on success. Serialized against the monitor loop per process.
func (s *Supervisor) Restart(name string) bool {
	p := s.get(name)
	if p == nil {
		return false
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.hasHandle() {
		if done, _ := p.exited(); !done {
			s.stopLocked(p, checkTimeout)
		}
	}
	if !s.startLocked(p) {
		return false
	}
	if !s.waitHealthy(p) {
		return false
	}
	p.mu.Lock()
	p.restarts = 0
	p.mu.Unlock()
	return true
}

// Status returns a snapshot for name, or false when it is not registered.
func (s *Supervisor) Status(name string) (StatusRecord, bool) {
	p := s.get(name)
	if p == nil {
		return StatusRecord{}, false
	}
	return p.snapshot(), true
}

// AllStatuses maps every registered name to its status string.
func (s *Supervisor) AllStatuses() map[string]string {
	out := make(map[string]string)
	for _, name := range s.names() {
		out[name] = s.get(name).getStatus().String()
	}
	return out
}

// Port returns the configured port for name.
func (s *Supervisor) Port(name string) (int, bool) {
	p := s.get(name)
	if p == nil {
		return 0, false
	}
	return p.cfg.Port, true
}

// Close releases the supervisor's probe client resources.
func (s *Supervisor) Close() {
	s.client.CloseIdleConnections()
}
