// Package workspace provides scoped file and shell access to a project
// workspace. Every path is validated against its scope directory before any
// filesystem or network call.
package workspace

import (
	"context"
	"errors"
	"fmt"
)

// ErrReadOnlyScope marks a write attempt against a scope that only permits
// reads.
var ErrReadOnlyScope = errors.New("scope is read-only")

// ErrNotFound marks a missing file. The local accessor wraps os.ErrNotExist
// into it; the remote accessor produces it from 404 responses.
var ErrNotFound = errors.New("file not found")

// Scopes lists the workspace subdirectories in creation order. The prototype
// scope is generated output and stays read-only through this API.
var Scopes = []string{"prototype", "frontend", "dbml", "test-case"}

var writableScopes = map[string]struct{}{
	"frontend":  {},
	"dbml":      {},
	"test-case": {},
}

// IsWritable reports whether scope accepts writes, deletes, and renames.
func IsWritable(scope string) bool {
	_, ok := writableScopes[scope]
	return ok
}

func readOnlyErr(scope string) error {
	return fmt.Errorf("%w: %s", ErrReadOnlyScope, scope)
}

// Accessor is the file and shell surface handed to workspace consumers. Two
// implementations exist: Local operates on the filesystem directly, RPC
// speaks to a remote gateway's files API. Paths are always relative to the
// scope directory.
type Accessor interface {
	Read(scope, path string) ([]byte, error)
	Write(scope, path string, content []byte) error
	List(scope string) ([]string, error)
	Delete(scope, path string) error
	Rename(scope, oldPath, newPath string) error
	Exec(ctx context.Context, scope, command string) (string, error)
}
