package tools

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/storage"
)

// NoScriptsMessage is the listScripts reply for a user with nothing saved.
const NoScriptsMessage = "You have no scripts saved yet."

// ScriptStore 脚本持久化所需的最小接口
// ScriptStore is the slice of the store the script tools use
type ScriptStore interface {
	UpsertScript(ctx context.Context, s storage.Script) (storage.Script, error)
	FindScript(ctx context.Context, userID, name string) (storage.Script, error)
	ListScripts(ctx context.Context, userID string) ([]storage.Script, error)
}

// ScriptPath 是客户端保存脚本的相对路径
// ScriptPath is where the client keeps a script, relative to its home
func ScriptPath(dir, name string) string {
	if dir == "" {
		dir = "scripts"
	}
	return path.Join(dir, name)
}

// checkScriptName 脚本名会成为客户端文件名，不允许路径分隔符
// checkScriptName refuses names that would not be a plain file name
func checkScriptName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return &apperr.ActionValidationError{
			Action: string(action.NameCreateScript),
			Field:  "name",
			Reason: "must be a plain file name",
		}
	}
	return nil
}

type CreateScriptTool struct {
	store ScriptStore
}

func NewCreateScriptTool(store ScriptStore) *CreateScriptTool {
	return &CreateScriptTool{store: store}
}

func (t *CreateScriptTool) Name() action.Name {
	return action.NameCreateScript
}

func (t *CreateScriptTool) Execute(ctx context.Context, call Call) (Outcome, error) {
	in, ok := call.Action.(action.CreateScript)
	if !ok {
		return Outcome{}, fmt.Errorf("createScript: unexpected action %T", call.Action)
	}
	name := strings.TrimSpace(in.Name)
	if err := checkScriptName(name); err != nil {
		return Outcome{}, err
	}
	saved, err := t.store.UpsertScript(ctx, storage.Script{
		UserID:      call.UserID,
		Name:        name,
		Description: in.Description,
		Code:        in.Code,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save script: %w", err)
	}
	msg := fmt.Sprintf("Script %q has been saved.", saved.Name)
	return Outcome{
		Final:  action.Reply{Content: msg},
		Result: &Result{Success: true, Output: msg},
	}, nil
}

type ListScriptsTool struct {
	store ScriptStore
}

func NewListScriptsTool(store ScriptStore) *ListScriptsTool {
	return &ListScriptsTool{store: store}
}

func (t *ListScriptsTool) Name() action.Name {
	return action.NameListScripts
}

func (t *ListScriptsTool) Execute(ctx context.Context, call Call) (Outcome, error) {
	scripts, err := t.store.ListScripts(ctx, call.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list scripts: %w", err)
	}
	msg := FormatScriptList(scripts)
	return Outcome{
		Final:  action.Reply{Content: msg},
		Result: &Result{Success: true, Output: msg},
	}, nil
}

// FormatScriptList 渲染脚本清单（markdown 列表）
// FormatScriptList renders scripts as a markdown bullet list
func FormatScriptList(scripts []storage.Script) string {
	if len(scripts) == 0 {
		return NoScriptsMessage
	}
	var b strings.Builder
	b.WriteString("Here are your saved scripts:\n")
	for _, s := range scripts {
		b.WriteString("\n- **")
		b.WriteString(s.Name)
		b.WriteString("**")
		if desc := strings.TrimSpace(s.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
	}
	return b.String()
}

// RunScriptTool 只查找脚本并交给客户端执行，从不在服务端运行
// RunScriptTool resolves a saved script for the client; it never runs it
type RunScriptTool struct {
	store ScriptStore
	dir   string
}

func NewRunScriptTool(store ScriptStore, dir string) *RunScriptTool {
	return &RunScriptTool{store: store, dir: dir}
}

func (t *RunScriptTool) Name() action.Name {
	return action.NameRunScript
}

func (t *RunScriptTool) Execute(ctx context.Context, call Call) (Outcome, error) {
	in, ok := call.Action.(action.RunScript)
	if !ok {
		return Outcome{}, fmt.Errorf("runScript: unexpected action %T", call.Action)
	}
	s, err := t.store.FindScript(ctx, call.UserID, strings.TrimSpace(in.Name))
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, fmt.Errorf("script %q not found", in.Name)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("find script: %w", err)
	}
	return Outcome{Final: action.RunScript{
		Name:        s.Name,
		Code:        s.Code,
		Path:        ScriptPath(t.dir, s.Name),
		Description: s.Description,
	}}, nil
}
