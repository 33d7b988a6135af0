package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	return g, g.Root()
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected error for nonexistent root")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); err == nil {
		t.Fatal("expected error for file root")
	}
}

func TestValidateInsideRoot(t *testing.T) {
	g, root := newGuard(t)

	sub := filepath.Join(root, "data")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		candidate string
		want      string
	}{
		{"root itself", root, root},
		{"absolute child", sub, sub},
		{"relative child", "data", sub},
		{"relative with dot", "./data", sub},
		{"nonexistent inside root", filepath.Join(root, "data", "new.txt"), filepath.Join(sub, "new.txt")},
		{"relative nonexistent", "data/out/model.pt", filepath.Join(sub, "out", "model.pt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Validate(tt.candidate)
			if err != nil {
				t.Fatalf("Validate(%q): %v", tt.candidate, err)
			}
			if got != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestValidateRejectsEscapes(t *testing.T) {
	g, root := newGuard(t)

	tests := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"null byte", "data\x00.txt"},
		{"parent traversal", "../outside"},
		{"deep traversal", "a/b/../../../etc/passwd"},
		{"absolute outside", "/etc/passwd"},
		{"sibling prefix", root + "2/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.Validate(tt.candidate); err == nil {
				t.Errorf("Validate(%q) succeeded, want error", tt.candidate)
			}
		})
	}
}

func TestValidateErrorNamesInputOnly(t *testing.T) {
	g, _ := newGuard(t)

	_, err := g.Validate("../secret-dir/key.pem")
	if err == nil {
		t.Fatal("expected error")
	}

	var secErr *SecurityError
	if !errors.As(err, &secErr) {
		t.Fatalf("error type = %T, want *SecurityError", err)
	}
	if secErr.Path != "../secret-dir/key.pem" {
		t.Errorf("error names %q, want the caller's input", secErr.Path)
	}
	if !errors.Is(err, ErrOutsideRoot) {
		t.Error("error should unwrap to ErrOutsideRoot")
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}

	g, root := newGuard(t)
	outside := t.TempDir()

	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Validate(link); err == nil {
		t.Fatal("symlink pointing outside root was accepted")
	}
	if _, err := g.Validate(filepath.Join(link, "file.txt")); err == nil {
		t.Fatal("path under escaping symlink was accepted")
	}
}

func TestValidateSymlinkInsideRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}

	g, root := newGuard(t)

	target := filepath.Join(root, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alias")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	got, err := g.Validate(link)
	if err != nil {
		t.Fatalf("Validate(%q): %v", link, err)
	}
	if got != target {
		t.Errorf("Validate resolved to %q, want %q", got, target)
	}
}

func TestValidateIdempotent(t *testing.T) {
	g, root := newGuard(t)

	candidate := filepath.Join(root, "a", "b", "c.txt")
	first, err := g.Validate(candidate)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Validate(first)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Validate(Validate(p)) = %q, want %q", second, first)
	}
}

func TestValidateDir(t *testing.T) {
	g, root := newGuard(t)

	sub := filepath.Join(root, "work")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := g.ValidateDir(sub); err != nil {
		t.Errorf("ValidateDir(%q): %v", sub, err)
	}
	if _, err := g.ValidateDir(file); err == nil {
		t.Error("ValidateDir accepted a regular file")
	}
	if _, err := g.ValidateDir(filepath.Join(root, "missing")); err == nil {
		t.Error("ValidateDir accepted a nonexistent directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"model.pt", "model.pt"},
		{"../../etc/passwd", "____etc_passwd"},
		{"a/b\\c", "a_b_c"},
		{".hidden", "hidden"},
		{"file\x00name", "file_name"},
		{`exp:1.log`, "exp_1.log"},
		{"", "unnamed"},
		{strings.Repeat("x", 300), strings.Repeat("x", 200)},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeJoin(t *testing.T) {
	g, root := newGuard(t)

	got, err := g.SafeJoin("runs", "exp1", "weights.pt")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "runs", "exp1", "weights.pt")
	if got != want {
		t.Errorf("SafeJoin = %q, want %q", got, want)
	}

	// Traversal components are neutralized, not rejected: the joined
	// path must still land inside the root.
	got, err = g.SafeJoin("..", "outside")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, root+string(filepath.Separator)) {
		t.Errorf("SafeJoin(%q, %q) escaped the root: %q", "..", "outside", got)
	}
}
