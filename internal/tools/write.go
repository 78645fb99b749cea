package tools

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathResolver 将用户给出的路径映射为绝对路径，或拒绝
// PathResolver maps a user-supplied path to an absolute one, or refuses it
type PathResolver func(path string) (string, error)

// FileWriter 写入整个文件内容（editFile 语义）
// FileWriter replaces whole file contents, matching editFile semantics
type FileWriter struct {
	resolve PathResolver
}

func NewFileWriter(resolve PathResolver) *FileWriter {
	return &FileWriter{resolve: resolve}
}

type WriteResult struct {
	Path          string `json:"path"`
	Size          int    `json:"size"`
	Operation     string `json:"operation"`
	Additions     int    `json:"additions"`
	Deletions     int    `json:"deletions"`
	Diff          string `json:"diff,omitempty"`
	DiffTruncated bool   `json:"diff_truncated,omitempty"`
}

// Summary is the one-line confirmation shown to the user.
func (r WriteResult) Summary() string {
	name := filepath.Base(r.Path)
	switch r.Operation {
	case "unchanged":
		return fmt.Sprintf("%s is unchanged.", name)
	case "created":
		return fmt.Sprintf("Created %s (+%d).", name, r.Additions)
	}
	return fmt.Sprintf("Updated %s (+%d -%d).", name, r.Additions, r.Deletions)
}

func (w *FileWriter) Write(path, content string) (WriteResult, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return WriteResult{}, fmt.Errorf("resolve path: %w", err)
	}
	original := ""
	existed := false
	if data, readErr := os.ReadFile(resolved); readErr == nil {
		existed = true
		original = string(data)
	} else if !os.IsNotExist(readErr) {
		return WriteResult{}, fmt.Errorf("read original file: %w", readErr)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return WriteResult{}, fmt.Errorf("write file: %w", err)
	}

	res := WriteResult{Path: resolved, Size: len(content), Operation: "created"}
	if existed {
		res.Operation = "updated"
		if normalizeNewlines(original) == normalizeNewlines(content) {
			res.Operation = "unchanged"
		}
	}
	if res.Operation != "unchanged" {
		d := diffEdit(path, original, content)
		res.Diff, res.DiffTruncated = d.Text, d.Truncated
		res.Additions, res.Deletions = d.Additions, d.Deletions
	}
	return res, nil
}

// Result converts a write into the collaborator shape.
func (r WriteResult) Result() Result {
	out := r.Summary()
	if r.Diff != "" {
		out += "\n" + r.Diff
	}
	return Result{Success: true, Output: out}
}
