package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"deskagent/internal/apperr"
)

func TestWorkspaceResolve_BlocksParentEscape(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}

	_, err = ws.Resolve("../outside.txt")
	if !errors.Is(err, apperr.ErrPathTraversal) {
		t.Fatalf("Resolve() error = %v, want apperr.ErrPathTraversal", err)
	}
}

func TestWorkspaceResolve_BlocksSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	linkPath := filepath.Join(root, "escape")
	if err := os.Symlink(outside, linkPath); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}

	_, err = ws.Resolve("escape/file.txt")
	if !errors.Is(err, apperr.ErrPathTraversal) {
		t.Fatalf("Resolve() error = %v, want apperr.ErrPathTraversal", err)
	}
}

func TestWorkspaceResolve_AllowsInsidePath(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}

	got, err := ws.Resolve("a/b/c.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	rel, err := filepath.Rel(ws.Root(), got)
	if err != nil {
		t.Fatalf("filepath.Rel() error = %v", err)
	}
	if rel != filepath.Join("a", "b", "c.txt") {
		t.Fatalf("Resolve() relative path = %q, want %q", rel, filepath.Join("a", "b", "c.txt"))
	}
}

func TestWorkspaceResolve_BlocksAbsoluteOutside(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	outside := filepath.Join(t.TempDir(), "x.txt")
	var pte *apperr.PathTraversalError
	if _, err := ws.Resolve(outside); !errors.As(err, &pte) {
		t.Fatalf("Resolve(%q) error = %v, want *apperr.PathTraversalError", outside, err)
	}
	if !pte.OutsideRoot {
		t.Fatalf("OutsideRoot=false for %q", outside)
	}
	if _, err := ws.Resolve("../x.txt"); !errors.As(err, &pte) || pte.OutsideRoot {
		t.Fatalf("Resolve(../x.txt) error = %v, want a dot-dot rejection", err)
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"notes/today.txt", false},
		{"../etc/passwd", true},
		{"a/../../b", true},
		{`C:\Users\..\Admin`, true},
		{"..hidden/file", false},
		{"file..txt", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ContainsTraversal(tt.path); got != tt.want {
			t.Errorf("ContainsTraversal(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWithin(t *testing.T) {
	dir := t.TempDir()
	got, err := Within(dir, "notes/a.txt")
	if err != nil || got != filepath.Join(dir, "notes", "a.txt") {
		t.Fatalf("Within relative = %q, %v", got, err)
	}
	if _, err := Within(dir, "notes/../../secret"); !errors.Is(err, apperr.ErrPathTraversal) {
		t.Fatalf("Within traversal error = %v", err)
	}
	if _, err := Within(dir, " "); err == nil {
		t.Fatal("Within should refuse an empty path")
	}
}
