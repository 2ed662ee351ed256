// Package pathscope validates that file paths handed to the workspace layer
// stay inside their scope directory. All agent-facing file access resolves
// through here before touching the filesystem.
package pathscope

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecurityError reports a path that would escape its confinement. It is a
// distinct type so callers can refuse to downgrade it into a plain error.
type SecurityError struct {
	Msg string
}

func (e *SecurityError) Error() string { return "security violation: " + e.Msg }

func securityErrorf(format string, args ...any) *SecurityError {
	return &SecurityError{Msg: fmt.Sprintf(format, args...)}
}

// unsafe reports whether name carries a pattern that must never appear in a
// scope or relative path: parent traversal, doubled slashes, NUL bytes,
// a leading slash, or home expansion.
func unsafe(name string) bool {
	if name == "" {
		return true
	}
	if strings.ContainsAny(name, "\x00\n\r") {
		return true
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return true
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "~") {
		return true
	}
	return false
}

// Validate resolves requested against baseDir and returns an absolute path
// guaranteed to be a descendant of baseDir. Containment is checked
// segment-wise via filepath.Rel, so a sibling like "/ws-evil" can never pass
// a check against "/ws".
func Validate(baseDir, requested string) (string, error) {
	if strings.TrimSpace(baseDir) == "" {
		return "", securityErrorf("base directory cannot be empty")
	}
	if strings.TrimSpace(requested) == "" {
		return "", securityErrorf("requested path cannot be empty")
	}
	if strings.ContainsRune(baseDir, 0) || strings.ContainsRune(requested, 0) {
		return "", securityErrorf("null byte in path")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", securityErrorf("cannot resolve base %q: %v", baseDir, err)
	}
	var target string
	if filepath.IsAbs(requested) {
		target = filepath.Clean(requested)
	} else {
		target = filepath.Join(base, requested)
	}

	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", securityErrorf("path %q escapes base directory %q", requested, baseDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", securityErrorf("path %q escapes base directory %q", requested, baseDir)
	}
	return target, nil
}

// ScopedPath returns the validated absolute path of rel inside
// workspace/scope. Scope and rel are rejected outright when they contain
// traversal sequences, doubled slashes, NUL bytes, or a leading '/' or '~'.
func ScopedPath(workspace, scope, rel string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		return "", securityErrorf("workspace cannot be empty")
	}
	if scope == "" {
		return "", securityErrorf("scope cannot be empty")
	}
	if rel == "" {
		return "", securityErrorf("relative path cannot be empty")
	}
	if unsafe(scope) {
		return "", securityErrorf("invalid scope: %q", scope)
	}
	if unsafe(rel) {
		return "", securityErrorf("unsafe path: %q", rel)
	}
	return Validate(filepath.Join(workspace, scope), rel)
}

// ScopeDir returns the validated absolute path of the scope directory itself.
func ScopeDir(workspace, scope string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		return "", securityErrorf("workspace cannot be empty")
	}
	if unsafe(scope) {
		return "", securityErrorf("invalid scope: %q", scope)
	}
	return Validate(workspace, scope)
}

// Contains reports whether path is baseDir itself or a descendant of it.
// Used for working-directory checks before shell execution.
func Contains(baseDir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
