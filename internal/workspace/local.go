package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devlabo/sandboxd/internal/pathscope"
)

const defaultExecTimeout = 60 * time.Second

// Local accesses a workspace on the local filesystem.
type Local struct {
	root        string
	execTimeout time.Duration
}

var _ Accessor = (*Local)(nil)

// NewLocal builds an accessor rooted at the workspace directory.
func NewLocal(root string) *Local {
	return &Local{root: root, execTimeout: defaultExecTimeout}
}

// Root returns the workspace root directory.
func (l *Local) Root() string { return l.root }

// EnsureScopeDirs creates every scope directory under the root.
func (l *Local) EnsureScopeDirs() error {
	for _, scope := range Scopes {
		dir, err := pathscope.ScopeDir(l.root, scope)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create scope dir %s: %w", scope, err)
		}
	}
	return nil
}

func (l *Local) Read(scope, path string) ([]byte, error) {
	p, err := pathscope.ScopedPath(l.root, scope, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) // #nosec G304 -- p is scope-validated
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, path)
	}
	return data, err
}

func (l *Local) Write(scope, path string, content []byte) error {
	if !IsWritable(scope) {
		return readOnlyErr(scope)
	}
	p, err := pathscope.ScopedPath(l.root, scope, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p, content, 0o640)
}

// List walks the scope directory and returns file paths relative to it,
// sorted. Directories themselves are not listed.
func (l *Local) List(scope string) ([]string, error) {
	dir, err := pathscope.ScopeDir(l.root, scope)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if errors.Is(werr, fs.ErrNotExist) {
				return nil
			}
			return werr
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(dir, p)
		if rerr != nil {
			return rerr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (l *Local) Delete(scope, path string) error {
	if !IsWritable(scope) {
		return readOnlyErr(scope)
	}
	p, err := pathscope.ScopedPath(l.root, scope, path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, path)
		}
		return err
	}
	return nil
}

func (l *Local) Rename(scope, oldPath, newPath string) error {
	if !IsWritable(scope) {
		return readOnlyErr(scope)
	}
	from, err := pathscope.ScopedPath(l.root, scope, oldPath)
	if err != nil {
		return err
	}
	to, err := pathscope.ScopedPath(l.root, scope, newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, oldPath)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return err
	}
	return os.Rename(from, to)
}

// Exec runs command through /bin/sh inside the scope directory and returns
// combined output. The run is bounded by the accessor's exec timeout on top
// of whatever deadline ctx carries.
func (l *Local) Exec(ctx context.Context, scope, command string) (string, error) {
	dir, err := pathscope.ScopeDir(l.root, scope)
	if err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(l.root)
	if err != nil {
		return "", err
	}
	if !pathscope.Contains(absRoot, dir) {
		return "", fmt.Errorf("scope dir %q outside workspace", dir)
	}
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, l.execTimeout)
	defer cancel()

	// ok: dir is scope-validated, command runs confined to it
	// #nosec G204
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("command timed out after %s", l.execTimeout)
	}
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}
