package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"deskagent/internal/action"
	"deskagent/internal/security"
)

var unsafeUserDirChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// EditFileTool 在服务端工作区内整体替换文件内容（server 模式）
// EditFileTool replaces a whole file inside the caller's server workspace
type EditFileTool struct {
	ws *security.Workspace
}

func NewEditFileTool(ws *security.Workspace) *EditFileTool {
	return &EditFileTool{ws: ws}
}

func (t *EditFileTool) Name() action.Name {
	return action.NameEditFile
}

func (t *EditFileTool) Execute(_ context.Context, call Call) (Outcome, error) {
	in, ok := call.Action.(action.EditFile)
	if !ok {
		return Outcome{}, fmt.Errorf("editFile: unexpected action %T", call.Action)
	}
	if err := security.CheckPath(in.Path); err != nil {
		return Outcome{}, err
	}
	ws, err := t.userWorkspace(call.UserID)
	if err != nil {
		return Outcome{}, err
	}
	res, err := NewFileWriter(ws.Resolve).Write(in.Path, in.NewContent)
	if err != nil {
		return Outcome{}, err
	}
	result := res.Result()
	return Outcome{Final: action.Reply{Content: res.Summary()}, Result: &result}, nil
}

// userWorkspace 每个用户一个子目录 / one subdirectory per user
func (t *EditFileTool) userWorkspace(userID string) (*security.Workspace, error) {
	dir := unsafeUserDirChars.ReplaceAllString(strings.TrimSpace(userID), "_")
	if dir == "" || strings.Trim(dir, ".") == "" {
		return nil, fmt.Errorf("editFile: invalid user id %q", userID)
	}
	resolved, err := t.ws.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return nil, fmt.Errorf("create user workspace: %w", err)
	}
	return security.NewWorkspace(resolved)
}
