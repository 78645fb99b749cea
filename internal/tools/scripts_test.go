package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/storage"
)

func newScriptStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestListScriptsEmpty(t *testing.T) {
	reg := NewRegistry(NewListScriptsTool(newScriptStore(t)))
	out, err := reg.Execute(context.Background(), Call{UserID: "u1", Action: action.ListScripts{}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	reply, ok := out.Final.(action.Reply)
	if !ok || !strings.Contains(reply.Content, "no scripts") {
		t.Fatalf("final=%#v", out.Final)
	}
	if out.Result == nil || !out.Result.Success {
		t.Fatalf("result=%+v", out.Result)
	}
}

func TestCreateScriptTwiceKeepsLatest(t *testing.T) {
	store := newScriptStore(t)
	reg := NewRegistry(NewCreateScriptTool(store), NewListScriptsTool(store), NewRunScriptTool(store, "scripts"))
	ctx := context.Background()

	for _, code := range []string{"echo one", "echo two"} {
		out, err := reg.Execute(ctx, Call{UserID: "u1", Action: action.CreateScript{Name: "hello.sh", Description: "greets", Code: code}})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if reply := out.Final.(action.Reply); !strings.Contains(reply.Content, `"hello.sh"`) {
			t.Fatalf("confirmation=%q", reply.Content)
		}
	}

	scripts, err := store.ListScripts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 || scripts[0].Code != "echo two" {
		t.Fatalf("scripts=%+v", scripts)
	}

	out, err := reg.Execute(ctx, Call{UserID: "u1", Action: action.RunScript{Name: "hello.sh"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := action.RunScript{Name: "hello.sh", Code: "echo two", Path: "scripts/hello.sh", Description: "greets"}
	if diff := cmp.Diff(want, out.Final); diff != "" {
		t.Fatalf("runScript final mismatch (-want +got):\n%s", diff)
	}
	if out.Result != nil {
		t.Fatalf("runScript must not report a local result: %+v", out.Result)
	}

	out, err = reg.Execute(ctx, Call{UserID: "u1", Action: action.ListScripts{}})
	if err != nil {
		t.Fatal(err)
	}
	if reply := out.Final.(action.Reply); !strings.Contains(reply.Content, "**hello.sh**: greets") {
		t.Fatalf("list=%q", reply.Content)
	}
}

func TestRunScriptScopedToUser(t *testing.T) {
	store := newScriptStore(t)
	if _, err := store.UpsertScript(context.Background(), storage.Script{UserID: "u1", Name: "mine", Code: "x"}); err != nil {
		t.Fatal(err)
	}
	_, err := NewRunScriptTool(store, "").Execute(context.Background(), Call{UserID: "u2", Action: action.RunScript{Name: "mine"}})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateScriptRejectsPathNames(t *testing.T) {
	tool := NewCreateScriptTool(newScriptStore(t))
	for _, name := range []string{"../evil", `dir\evil`, ".."} {
		_, err := tool.Execute(context.Background(), Call{UserID: "u1", Action: action.CreateScript{Name: name, Code: "x"}})
		var ave *apperr.ActionValidationError
		if !errors.As(err, &ave) {
			t.Fatalf("name %q: err=%v", name, err)
		}
	}
}

func TestEditFileToolWritesIntoUserWorkspace(t *testing.T) {
	ws := newTestWorkspace(t)
	tool := NewEditFileTool(ws)

	out, err := tool.Execute(context.Background(), Call{UserID: "alice", Action: action.EditFile{Path: "notes.txt", NewContent: "hello\n"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), "alice", "notes.txt"))
	if err != nil || string(data) != "hello\n" {
		t.Fatalf("content=%q err=%v", data, err)
	}
	if reply := out.Final.(action.Reply); reply.Content != "Created notes.txt (+1)." {
		t.Fatalf("reply=%q", reply.Content)
	}

	_, err = tool.Execute(context.Background(), Call{UserID: "alice", Action: action.EditFile{Path: "../bob/notes.txt", NewContent: "x"}})
	if !errors.Is(err, apperr.ErrPathTraversal) {
		t.Fatalf("traversal err=%v", err)
	}
}

func TestRegistryUnknownAction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), Call{Action: action.CaptureScreen{}})
	var ua *apperr.UnknownActionError
	if !errors.As(err, &ua) {
		t.Fatalf("err=%v", err)
	}
	if ua.Name != string(action.NameCaptureScreen) {
		t.Fatalf("unknown name=%q", ua.Name)
	}
}

func TestToolOutput(t *testing.T) {
	tests := []struct {
		subject string
		res     Result
		want    string
	}{
		{"ls", Result{Success: true, Output: "a.txt"}, "TOOL_OUTPUT: ls Status: Success Output: a.txt Error: "},
		{"readFile notes.txt", Result{Success: true, Content: "hi"}, "TOOL_OUTPUT: readFile notes.txt Status: Success Output: hi Error: "},
		{"ls nope", Result{Error: "no such file"}, "TOOL_OUTPUT: ls nope Status: Failure Output:  Error: no such file"},
	}
	for _, tt := range tests {
		if got := ToolOutput(tt.subject, tt.res); got != tt.want {
			t.Errorf("ToolOutput(%q)=%q, want %q", tt.subject, got, tt.want)
		}
	}
}
