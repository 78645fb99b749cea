package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/chat"
	"deskagent/internal/config"
	"deskagent/internal/security"
	"deskagent/internal/storage"
	"deskagent/internal/tools"
)

func newDispatcher(t *testing.T, mode string) (*Dispatcher, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ws, err := security.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := tools.NewRegistry(
		tools.NewEditFileTool(ws),
		tools.NewCreateScriptTool(store),
		tools.NewListScriptsTool(store),
		tools.NewRunScriptTool(store, "scripts"),
	)
	return New(reg, mode, nil), store
}

func TestDispatchRemoteActionsPassThrough(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	tests := []action.Action{
		action.RunCommand{Command: "ls", Args: []string{"-la"}},
		action.CaptureScreen{},
		action.ReadFile{Path: "notes.txt"},
	}
	for _, a := range tests {
		res := d.Dispatch(context.Background(), a, "u1", "s1")
		if !res.Remote || res.Local != nil {
			t.Fatalf("%s: result=%+v", a.Kind(), res)
		}
		if diff := cmp.Diff(action.Encode(a), action.Encode(res.Final)); diff != "" {
			t.Fatalf("%s: final changed (-want +got):\n%s", a.Kind(), diff)
		}
	}
}

func TestDispatchReplyPassThrough(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	res := d.Dispatch(context.Background(), action.Reply{Content: "hi"}, "u1", "s1")
	if res.Remote || res.Local != nil || res.Final != (action.Reply{Content: "hi"}) {
		t.Fatalf("result=%+v", res)
	}
}

func TestDispatchListScriptsEmpty(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	res := d.Dispatch(context.Background(), action.ListScripts{}, "u1", "s1")
	reply, ok := res.Final.(action.Reply)
	if !ok || !strings.Contains(reply.Content, "no scripts") {
		t.Fatalf("final=%#v", res.Final)
	}
	if res.Local == nil || res.Local.Kind != chat.PartActionResult || res.Local.Result.Name != "listScripts" {
		t.Fatalf("local=%+v", res.Local)
	}
}

func TestDispatchRunScript(t *testing.T) {
	d, store := newDispatcher(t, config.EditFileLocal)
	if _, err := store.UpsertScript(context.Background(), storage.Script{UserID: "u1", Name: "backup.ps1", Code: "Copy-Item a b"}); err != nil {
		t.Fatal(err)
	}

	res := d.Dispatch(context.Background(), action.RunScript{Name: "backup.ps1"}, "u1", "s1")
	rs, ok := res.Final.(action.RunScript)
	if !ok || !res.Remote || rs.Code != "Copy-Item a b" || rs.Path != "scripts/backup.ps1" {
		t.Fatalf("result=%+v", res)
	}

	res = d.Dispatch(context.Background(), action.RunScript{Name: "missing"}, "u1", "s1")
	reply, ok := res.Final.(action.Reply)
	if !ok || res.Remote || res.Local != nil || !strings.Contains(reply.Content, "not found") {
		t.Fatalf("missing script result=%+v", res)
	}
}

func TestDispatchEditFileModes(t *testing.T) {
	local, _ := newDispatcher(t, config.EditFileLocal)
	res := local.Dispatch(context.Background(), action.EditFile{Path: "a.txt", NewContent: "x"}, "u1", "s1")
	if res.Remote || res.Local == nil || res.Local.Result.Error != "" {
		t.Fatalf("local edit=%+v", res)
	}

	remote, _ := newDispatcher(t, config.EditFileRemote)
	edit := action.EditFile{Path: "a.txt", NewContent: "x"}
	res = remote.Dispatch(context.Background(), edit, "u1", "s1")
	if !res.Remote || res.Final != edit {
		t.Fatalf("remote edit=%+v", res)
	}

	for _, d := range []*Dispatcher{local, remote} {
		res = d.Dispatch(context.Background(), action.EditFile{Path: "../../etc/hosts", NewContent: "x"}, "u1", "s1")
		reply, ok := res.Final.(action.Reply)
		if !ok || res.Remote || !strings.Contains(reply.Content, `".."`) {
			t.Fatalf("traversal result=%+v", res)
		}
	}
}

func TestDispatchReadFileTraversal(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	res := d.Dispatch(context.Background(), action.ReadFile{Path: `..\secret.txt`}, "u1", "s1")
	if res.Remote {
		t.Fatalf("traversal must not reach the client: %+v", res)
	}
}

func TestDispatchCreateScriptFailureBecomesResult(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	res := d.Dispatch(context.Background(), action.CreateScript{Name: "a/b", Code: "x"}, "u1", "s1")
	if _, ok := res.Final.(action.Reply); !ok {
		t.Fatalf("final=%#v", res.Final)
	}
	if res.Local == nil || res.Local.Result.Error == "" {
		t.Fatalf("failure should be recorded as an action result: %+v", res.Local)
	}
}

func TestDispatchEditFileOutsideWorkspace(t *testing.T) {
	d, _ := newDispatcher(t, config.EditFileLocal)
	tests := []struct {
		path string
		want string
	}{
		{"/etc/notes.txt", "it is outside your workspace"},
		{"../notes.txt", `paths containing ".." are not allowed`},
	}
	for _, tt := range tests {
		res := d.Dispatch(context.Background(), action.EditFile{Path: tt.path, NewContent: "x"}, "u1", "s1")
		reply, ok := res.Final.(action.Reply)
		if !ok || !strings.Contains(reply.Content, tt.want) {
			t.Errorf("EditFile %q: final=%#v, want substring %q", tt.path, res.Final, tt.want)
		}
	}
}

func TestFailureReply(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&apperr.UnknownActionError{Name: "deleteEverything"}, `"deleteEverything"`},
		{&apperr.ActionValidationError{Action: "runCommand", Field: "command", Reason: "is required"}, "invalid runCommand action (command is required)"},
		{&apperr.PathTraversalError{Path: "../x"}, `"../x": paths containing ".." are not allowed`},
		{&apperr.PathTraversalError{Path: "/etc/x", OutsideRoot: true}, `"/etc/x": it is outside your workspace`},
		{errors.New("disk full"), "createScript failed: disk full"},
	}
	for _, tt := range tests {
		got := FailureReply(action.CreateScript{}, tt.err)
		if !strings.Contains(got.Content, tt.want) {
			t.Errorf("FailureReply(%v)=%q, want substring %q", tt.err, got.Content, tt.want)
		}
	}
}
