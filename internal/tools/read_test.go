package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskagent/internal/security"
)

func TestFileReaderReadsWholeFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "todo.txt"), []byte("buy milk\ncall mom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reader := NewFileReader(func(p string) (string, error) { return security.Within(dir, p) }, 0)

	res := reader.Read("todo.txt")
	if !res.Success || res.Content != "buy milk\ncall mom\n" {
		t.Fatalf("result=%+v", res)
	}
}

func TestFileReaderTruncates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Repeat("a", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	reader := NewFileReader(func(p string) (string, error) { return security.Within(dir, p) }, 10)

	res := reader.Read("big.txt")
	if !res.Success || res.Content != strings.Repeat("a", 10)+"\n[file truncated]" {
		t.Fatalf("result=%+v", res)
	}
}

func TestFileReaderFailures(t *testing.T) {
	dir := t.TempDir()
	reader := NewFileReader(func(p string) (string, error) { return security.Within(dir, p) }, 0)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing", "nope.txt", "read file"},
		{"traversal", "../../etc/passwd", "path traversal"},
		{"directory", ".", "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reader.Read(tt.path)
			if res.Success || !strings.Contains(res.Error, tt.want) {
				t.Fatalf("Read(%q)=%+v, want error containing %q", tt.path, res, tt.want)
			}
		})
	}
}
