package supervisor

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// managedProcess holds the mutable state for one registered config. The
// *exec.Cmd handle is owned exclusively by the supervisor; it is never handed
// out. opMu serializes whole start/stop/restart transitions so an explicit
// Restart cannot interleave with the monitor loop's respawn; mu guards the
// individual fields.
type managedProcess struct {
	cfg Config

	opMu sync.Mutex

	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastStart time.Time
	lastErr   string
	waitDone  chan struct{} // closed by the reaper once cmd.Wait returns
	exitErr   error
	outW      io.WriteCloser
	errW      io.WriteCloser
}

func newManagedProcess(cfg Config) *managedProcess {
	return &managedProcess{cfg: cfg, status: StatusStopped}
}

func (p *managedProcess) snapshot() StatusRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := StatusRecord{
		Name:        p.cfg.Name,
		Status:      p.status.String(),
		Port:        p.cfg.Port,
		Restarts:    p.restarts,
		LastError:   p.lastErr,
		LastStartAt: p.lastStart,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		rec.PID = p.cmd.Process.Pid
	}
	return rec
}

func (p *managedProcess) getStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *managedProcess) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	if s == StatusRunning {
		p.lastErr = ""
	}
	p.mu.Unlock()
}

func (p *managedProcess) setFailed(msg string) {
	p.mu.Lock()
	p.status = StatusFailed
	p.lastErr = msg
	p.mu.Unlock()
}

func (p *managedProcess) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// hasHandle reports whether a process was ever spawned for the current cycle.
func (p *managedProcess) hasHandle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// exited reports whether the owned process has been reaped, along with its
// exit code. A process without a handle counts as exited with code -1.
func (p *managedProcess) exited() (bool, int) {
	p.mu.Lock()
	wd := p.waitDone
	cmd := p.cmd
	err := p.exitErr
	p.mu.Unlock()
	if cmd == nil {
		return true, -1
	}
	select {
	case <-wd:
		if ee, ok := err.(*exec.ExitError); ok {
			return true, ee.ExitCode()
		}
		if err == nil && cmd.ProcessState != nil {
			return true, cmd.ProcessState.ExitCode()
		}
		return true, -1
	default:
		return false, 0
	}
}

// markStarted records a freshly spawned cmd and launches the reaper goroutine
// that owns cmd.Wait for this run.
func (p *managedProcess) markStarted(cmd *exec.Cmd, outW, errW io.WriteCloser) {
	done := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = done
	p.exitErr = nil
	p.lastStart = time.Now()
	p.outW = outW
	p.errW = errW
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		if p.outW != nil {
			_ = p.outW.Close()
			p.outW = nil
		}
		if p.errW != nil {
			_ = p.errW.Close()
			p.errW = nil
		}
		p.mu.Unlock()
		close(done)
	}()
}

// dropHandle forgets the current cmd so the monitor loop stops considering
// this process. Used after the restart limit is exhausted.
func (p *managedProcess) dropHandle() {
	p.mu.Lock()
	p.cmd = nil
	p.mu.Unlock()
}

// terminate sends SIGTERM to the process group, polls for exit until the
// grace period elapses, then escalates to SIGKILL. Returns once the process
// is confirmed dead or signaling shows it is already gone.
func (p *managedProcess) terminate(grace time.Duration) {
	pid := p.pid()
	if pid == 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// ESRCH: the group is already gone.
		return
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if done, _ := p.exited(); done {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	p.mu.Lock()
	wd := p.waitDone
	p.mu.Unlock()
	if wd != nil {
		select {
		case <-wd:
		case <-time.After(2 * time.Second):
			// best-effort
		}
	}
}

// configureCmd builds the exec.Cmd for this process: argv as-is, working
// directory cwd, merged environment (overrides win), its own process group,
// and stdout/stderr wired to the log writers (or discarded).
func (p *managedProcess) configureCmd(cwd string) (*exec.Cmd, io.WriteCloser, io.WriteCloser) {
	// ok: command comes from operator-owned configuration
	// #nosec G204
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = cwd
	env := os.Environ()
	for k, v := range p.cfg.Env {
		// later duplicates win in os/exec, so appending applies the override
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outW, errW := p.cfg.Log.Writers(p.cfg.Name)
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	return cmd, outW, errW
}
