package sandboxd

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestSupervisorFacadeStartStatusStop(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(t.TempDir(), nil)
	defer s.Close()

	cfg := ProcessConfig{Name: "pf1", Command: []string{"/bin/sleep", "60"}, Port: 18099}
	if err := s.Register(cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.Start("pf1") {
		t.Fatal("start returned false")
	}
	rec, ok := s.Status("pf1")
	if !ok || rec.PID == 0 {
		t.Fatalf("unexpected status: %+v", rec)
	}
	if !s.Stop("pf1", 2*time.Second) {
		t.Fatal("stop returned false")
	}
	rec, _ = s.Status("pf1")
	if rec.Status != "stopped" {
		t.Fatalf("status after stop = %q", rec.Status)
	}
}

func TestWorkspaceFacade(t *testing.T) {
	ws := NewLocalWorkspace(t.TempDir())
	if err := ws.EnsureScopeDirs(); err != nil {
		t.Fatalf("scope dirs: %v", err)
	}
	if err := ws.Write("frontend", "a.txt", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := ws.Read("frontend", "a.txt")
	if err != nil || string(data) != "x" {
		t.Fatalf("read = %q %v", data, err)
	}
}

func TestLoadConfigFacade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandboxd.toml")
	if err := os.WriteFile(path, []byte(`workspace = "/tmp/ws"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace != "/tmp/ws" {
		t.Fatalf("workspace = %q", cfg.Workspace)
	}
	if DefaultRoutes()["frontend"] != 3002 {
		t.Fatalf("routes = %v", DefaultRoutes())
	}
}
