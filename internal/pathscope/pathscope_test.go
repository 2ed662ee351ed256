package pathscope

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestScopedPathTraversalRejected(t *testing.T) {
	workspaces := []string{"/workspace", "/root/workspace", "relative/ws", "/tmp/x"}
	for _, ws := range workspaces {
		_, err := ScopedPath(ws, "frontend", "../../etc/passwd")
		if err == nil {
			t.Fatalf("workspace %q: expected security violation for traversal", ws)
		}
		var se *SecurityError
		if !errors.As(err, &se) {
			t.Errorf("workspace %q: expected *SecurityError, got %T", ws, err)
		}
	}
}

func TestScopedPathHappyPath(t *testing.T) {
	got, err := ScopedPath("/workspace", "frontend", "src/App.tsx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/workspace", "frontend", "src", "App.tsx")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestScopedPathRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name      string
		workspace string
		scope     string
		rel       string
	}{
		{"empty workspace", "", "frontend", "a.txt"},
		{"empty scope", "/ws", "", "a.txt"},
		{"empty path", "/ws", "frontend", ""},
		{"scope traversal", "/ws", "..", "a.txt"},
		{"scope with slash prefix", "/ws", "/etc", "a.txt"},
		{"path with null byte", "/ws", "frontend", "a\x00.txt"},
		{"path doubled slashes", "/ws", "frontend", "a//b.txt"},
		{"path leading slash", "/ws", "frontend", "/etc/passwd"},
		{"path home expansion", "/ws", "frontend", "~/secrets"},
		{"scope home expansion", "/ws", "~", "a.txt"},
	}
	for _, tc := range cases {
		if _, err := ScopedPath(tc.workspace, tc.scope, tc.rel); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestValidateSiblingPrefixNotContained(t *testing.T) {
	// "/root/workspace-evil" must not pass a check against "/root/workspace".
	if _, err := Validate("/root/workspace", "/root/workspace-evil/file"); err == nil {
		t.Fatal("sibling directory with shared prefix must be rejected")
	}
	if Contains("/root/workspace", "/root/workspace-evil") {
		t.Fatal("Contains must not match sibling prefix")
	}
	if !Contains("/root/workspace", "/root/workspace/sub/dir") {
		t.Fatal("Contains must match true descendant")
	}
	if !Contains("/root/workspace", "/root/workspace") {
		t.Fatal("Contains must match the base itself")
	}
}

func TestValidateAbsoluteInsideBase(t *testing.T) {
	got, err := Validate("/ws/frontend", "/ws/frontend/src/main.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/ws/frontend/src/main.js" {
		t.Errorf("got %q", got)
	}
}
