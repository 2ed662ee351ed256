package workspace_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devlabo/sandboxd/internal/gateway"
	"github.com/devlabo/sandboxd/internal/workspace"
)

// newRPC wires an RPC accessor to a real gateway router backed by a Local
// accessor, so the two variants are exercised against each other.
func newRPC(t *testing.T) (*workspace.RPC, *workspace.Local) {
	t.Helper()
	local := workspace.NewLocal(t.TempDir())
	if err := local.EnsureScopeDirs(); err != nil {
		t.Fatalf("EnsureScopeDirs: %v", err)
	}
	gw := gateway.New(gateway.DefaultRoutes(), nil, 0, nil)
	t.Cleanup(gw.Close)
	srv := httptest.NewServer(gateway.NewRouter(gw, local).Handler())
	t.Cleanup(srv.Close)
	return workspace.NewRPC(srv.URL, 5*time.Second), local
}

func TestRPCWriteReadDelete(t *testing.T) {
	rpc, local := newRPC(t)

	if err := rpc.Write("frontend", "src/App.tsx", []byte("<App/>")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// The write landed on the real filesystem.
	data, err := local.Read("frontend", "src/App.tsx")
	if err != nil || string(data) != "<App/>" {
		t.Fatalf("local read = %q %v", data, err)
	}

	data, err = rpc.Read("frontend", "src/App.tsx")
	if err != nil || string(data) != "<App/>" {
		t.Fatalf("rpc read = %q %v", data, err)
	}

	files, err := rpc.List("frontend")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0] != "src/App.tsx" {
		t.Errorf("files = %v", files)
	}

	if err := rpc.Delete("frontend", "src/App.tsx"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := rpc.Read("frontend", "src/App.tsx"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("read after delete = %v, want ErrNotFound", err)
	}
}

func TestRPCReadOnlyScope(t *testing.T) {
	rpc, _ := newRPC(t)

	err := rpc.Write("prototype", "index.html", []byte("x"))
	if !errors.Is(err, workspace.ErrReadOnlyScope) {
		t.Errorf("err = %v, want ErrReadOnlyScope", err)
	}
}

func TestRPCRename(t *testing.T) {
	rpc, local := newRPC(t)

	if err := rpc.Write("dbml", "a.dbml", []byte("Table t {}")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rpc.Rename("dbml", "a.dbml", "b.dbml"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	data, err := local.Read("dbml", "b.dbml")
	if err != nil || string(data) != "Table t {}" {
		t.Errorf("renamed = %q %v", data, err)
	}
}

func TestRPCExec(t *testing.T) {
	rpc, _ := newRPC(t)

	out, err := rpc.Exec(context.Background(), "test-case", "echo remote")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(out, "remote") {
		t.Errorf("out = %q", out)
	}
}
