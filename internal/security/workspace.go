package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deskagent/internal/apperr"
)

// ContainsTraversal reports whether path has a ".." segment under either
// separator style.
func ContainsTraversal(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// CheckPath 拒绝含 ".." 段的路径 / CheckPath rejects paths with a ".." segment
func CheckPath(path string) error {
	if ContainsTraversal(path) {
		return &apperr.PathTraversalError{Path: path}
	}
	return nil
}

type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// If cwd does not have symlinks or cannot be resolved, keep abs path.
		resolved = abs
	}
	return &Workspace{root: resolved}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Resolve 将路径限制在工作区内（含符号链接逃逸）
// Resolve confines path to the workspace root, following symlinks. Any
// escape yields *apperr.PathTraversalError.
func (w *Workspace) Resolve(path string) (string, error) {
	if err := CheckPath(path); err != nil {
		return "", err
	}
	target := path
	if strings.TrimSpace(target) == "" {
		target = w.root
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}

	clean := filepath.Clean(target)
	resolved, err := resolveWithParentSymlink(clean)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", &apperr.PathTraversalError{Path: path, OutsideRoot: true}
	}
	return resolved, nil
}

func resolveWithParentSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}

	parent := filepath.Dir(path)
	base := filepath.Base(path)
	parentResolved, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		if errors.Is(perr, os.ErrNotExist) {
			parentResolved = parent
		} else {
			return "", fmt.Errorf("resolve parent symlink: %w", perr)
		}
	}
	return filepath.Join(parentResolved, base), nil
}

// Within 解析相对 dir 的路径，仅拒绝 ".." 段；供桌面客户端在当前目录下使用
// Within resolves path against dir for the desktop client. Only ".." segments
// are refused; absolute paths are taken as given.
func Within(dir, path string) (string, error) {
	if err := CheckPath(path); err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is empty")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Join(dir, path), nil
}
