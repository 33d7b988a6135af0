// Package pathguard confines filesystem access to a single project
// root. It canonicalizes candidate paths, resolving symlinks and
// relative segments, and rejects anything that escapes the root.
//
// Callers must perform all subsequent I/O on the canonical path
// returned by Validate, not on the original candidate; validating one
// string and opening another reopens the time-of-check/time-of-use gap
// the canonical result exists to close. In long-running processes the
// path should be re-validated if significant time passes before use,
// since symlinks can change underneath it.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is the sentinel wrapped by every SecurityError.
var ErrOutsideRoot = errors.New("path outside project root")

// SecurityError reports a rejected path. It carries the input exactly
// as the caller supplied it, never an internal canonical form, which
// could leak filesystem structure the caller has no business learning.
type SecurityError struct {
	// Path is the candidate as supplied by the caller.
	Path string

	// Reason is a short human-readable cause.
	Reason string
}

// Error returns the error message.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is(err, ErrOutsideRoot) work.
func (e *SecurityError) Unwrap() error {
	return ErrOutsideRoot
}

// Guard validates paths against a single canonical root. The root is
// resolved once at construction and never changes; Guard is stateless
// afterwards and safe for unrestricted concurrent use.
type Guard struct {
	root string
}

// New creates a Guard confined to root. The root must exist and be a
// directory; it is canonicalized (symlinks resolved) so that all later
// containment checks compare like with like.
func New(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %q is not a directory", root)
	}
	return &Guard{root: canonical}, nil
}

// Root returns the canonical project root.
func (g *Guard) Root() string {
	return g.root
}

// Validate canonicalizes candidate and checks containment in the root.
// Relative candidates are interpreted against the root. The candidate
// does not need to exist: the deepest existing ancestor is resolved and
// the remaining segments are joined onto it, so a symlinked ancestor
// pointing outside the root is still caught for write targets.
//
// On success Validate returns the canonical path; use it, not the
// candidate, for all subsequent I/O.
func (g *Guard) Validate(candidate string) (string, error) {
	if candidate == "" {
		return "", &SecurityError{Path: candidate, Reason: "empty path"}
	}
	if strings.ContainsRune(candidate, 0) {
		return "", &SecurityError{Path: candidate, Reason: "path contains null byte"}
	}

	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}
	path = filepath.Clean(path)

	canonical, err := canonicalize(path)
	if err != nil {
		return "", &SecurityError{Path: candidate, Reason: "path could not be resolved"}
	}

	if !g.contains(canonical) {
		return "", &SecurityError{Path: candidate, Reason: "outside the project root"}
	}
	return canonical, nil
}

// ValidateDir validates candidate and additionally requires it to be
// an existing directory. Used for subprocess working directories.
func (g *Guard) ValidateDir(candidate string) (string, error) {
	canonical, err := g.Validate(candidate)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return "", &SecurityError{Path: candidate, Reason: "directory does not exist"}
	}
	if !info.IsDir() {
		return "", &SecurityError{Path: candidate, Reason: "not a directory"}
	}
	return canonical, nil
}

// contains reports whether p equals the root or sits strictly below it.
// The comparison is segment-aware: /srv/project2 is not inside
// /srv/project.
func (g *Guard) contains(p string) bool {
	if p == g.root {
		return true
	}
	prefix := g.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// canonicalize resolves path to its symlink-free absolute form. For
// paths that do not exist yet, the deepest existing ancestor is
// resolved and the remaining cleaned segments are appended.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		// Filesystem root; nothing left to resolve.
		return path, nil
	}
	resolvedParent, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// SanitizeFilename strips characters that are dangerous in a single
// path component and collapses traversal attempts. The result is safe
// to join under a validated directory.
func SanitizeFilename(name string) string {
	dangerous := []string{"/", "\\", "\x00", ":", "*", "?", "\"", "<", ">", "|"}
	result := name
	for _, ch := range dangerous {
		result = strings.ReplaceAll(result, ch, "_")
	}
	result = strings.ReplaceAll(result, "..", "_")
	result = strings.TrimLeft(result, ".")
	result = strings.TrimSpace(result)

	if len(result) > 200 {
		ext := filepath.Ext(result)
		result = result[:200-len(ext)] + ext
	}
	if result == "" {
		result = "unnamed"
	}
	return result
}

// SafeJoin sanitizes each part, joins it under the root and validates
// the result. It never produces a path outside the root.
func (g *Guard) SafeJoin(parts ...string) (string, error) {
	joined := g.root
	for _, part := range parts {
		joined = filepath.Join(joined, SanitizeFilename(part))
	}
	return g.Validate(joined)
}
