package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/chat"
	"deskagent/internal/config"
	"deskagent/internal/contextmgr"
	"deskagent/internal/dispatch"
	"deskagent/internal/provider"
	"deskagent/internal/security"
	"deskagent/internal/session"
	"deskagent/internal/storage"
	"deskagent/internal/stream"
	"deskagent/internal/tools"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts in init and never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedProvider 按调用顺序返回预设片段
type scriptedProvider struct {
	mu       sync.Mutex
	replies  [][]string
	err      error
	calls    int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	// blockAfterFirst emits the first chunk, signals started, then waits for
	// cancellation.
	blockAfterFirst bool
	started         chan struct{}
}

func (p *scriptedProvider) Stream(ctx context.Context, _ provider.Request, cb *provider.StreamCallbacks) (string, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return "", p.err
	}
	var chunks []string
	if idx < len(p.replies) {
		chunks = p.replies[idx]
	} else if len(p.replies) > 0 {
		chunks = p.replies[len(p.replies)-1]
	}
	var b strings.Builder
	for i, c := range chunks {
		b.WriteString(c)
		cb.OnTextChunk(c)
		if i == 0 && p.blockAfterFirst {
			close(p.started)
			<-ctx.Done()
			return "", ctx.Err()
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.String(), nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) CurrentModel() string { return "scripted-1" }

type staticPrompts struct{}

func (staticPrompts) Build(_ context.Context, req contextmgr.Request) ([]chat.Message, error) {
	return []chat.Message{{Role: chat.MessageSystem, Content: "system"}, {Role: chat.MessageUser, Content: "hi"}}, nil
}

type harness struct {
	engine *Engine
	store  *storage.SQLiteStore
}

func newHarness(t *testing.T, p provider.Provider) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
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
	eng := New(Deps{
		Provider:   p,
		Resolver:   session.NewResolver(store, nil),
		Store:      store,
		Prompts:    staticPrompts{},
		Dispatcher: dispatch.New(reg, config.EditFileLocal, nil),
	}, Options{MaxOutputTokens: 1024}, nil)
	return &harness{engine: eng, store: store}
}

func (h *harness) turns(t *testing.T, sessionID string) []chat.Turn {
	t.Helper()
	turns, _, err := h.store.PageTurns(context.Background(), sessionID, 0, 0)
	if err != nil {
		t.Fatalf("PageTurns: %v", err)
	}
	// chronological
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

func modelTurns(turns []chat.Turn) []chat.Turn {
	var out []chat.Turn
	for _, t := range turns {
		if t.Role == chat.RoleModel {
			out = append(out, t)
		}
	}
	return out
}

func sessionIDOf(t *testing.T, rec *stream.Recorder) string {
	t.Helper()
	for _, ev := range rec.Events() {
		if ev.Type == stream.TypeSessionID {
			id, err := ev.Text()
			if err != nil {
				t.Fatal(err)
			}
			return id
		}
	}
	t.Fatal("no session_id event")
	return ""
}

func finalOf(t *testing.T, rec *stream.Recorder) action.Envelope {
	t.Helper()
	events := rec.Events()
	last := events[len(events)-1]
	if last.Type != stream.TypeFinal {
		t.Fatalf("last event=%s, want final", last.Type)
	}
	env, err := last.Envelope()
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestSubmit_PlaceholderStartsNewSession(t *testing.T) {
	p := &scriptedProvider{replies: [][]string{{`{"action":"reply",`, `"parameters":{"content":"Hello!"}}`}}}
	h := newHarness(t, p)
	ctx := context.Background()

	rec := &stream.Recorder{}
	if err := h.engine.Submit(ctx, Request{UserID: "u1", SessionID: "temp-1700000000000", Message: "hello", Platform: "darwin"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := []stream.Type{stream.TypeSessionID, stream.TypeTextChunk, stream.TypeTextChunk, stream.TypeFinal}
	if diff := cmp.Diff(want, rec.Types()); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	sid := sessionIDOf(t, rec)
	if sid == "temp-1700000000000" {
		t.Fatal("placeholder id must not be adopted")
	}
	if env := finalOf(t, rec); action.Render(env) != "Hello!" {
		t.Fatalf("final=%+v", env)
	}
	_, total, err := h.store.ListSessions(ctx, "u1", 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("sessions total=%d err=%v, want 1", total, err)
	}

	// reusing the durable id: no session_id, same session
	rec = &stream.Recorder{}
	if err := h.engine.Submit(ctx, Request{UserID: "u1", SessionID: sid, Message: "again"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Types()[0] == stream.TypeSessionID {
		t.Fatal("existing session must not emit session_id")
	}
	if got := len(h.turns(t, sid)); got != 4 {
		t.Fatalf("turns=%d, want 4", got)
	}

	// a second placeholder starts a second session
	rec = &stream.Recorder{}
	if err := h.engine.Submit(ctx, Request{UserID: "u1", SessionID: "temp-1700000000001", Message: "new chat"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Types()[0] != stream.TypeSessionID {
		t.Fatal("new session must start with session_id")
	}
	if _, total, _ := h.store.ListSessions(ctx, "u1", 10, 0); total != 2 {
		t.Fatalf("sessions total=%d, want 2", total)
	}
}

func TestSubmit_UnparseableOutput(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{"Sure, I can ", "help with that."}}})
	rec := &stream.Recorder{}
	if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "hi"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var errorEvents []stream.ErrorPayload
	for _, ev := range rec.Events() {
		if ev.Type == stream.TypeError {
			payload, err := ev.ErrorPayload()
			if err != nil {
				t.Fatal(err)
			}
			errorEvents = append(errorEvents, payload)
		}
		if ev.Type == stream.TypeFinal {
			t.Fatal("unparseable output must not produce final")
		}
	}
	if len(errorEvents) != 1 || errorEvents[0].Message != "model processing error" {
		t.Fatalf("error events=%+v", errorEvents)
	}

	models := modelTurns(h.turns(t, sessionIDOf(t, rec)))
	if len(models) != 1 {
		t.Fatalf("model turns=%d, want 1", len(models))
	}
	a, err := action.FromCall(models[0].Parts[0].Call)
	if err != nil {
		t.Fatal(err)
	}
	if got := action.Describe(a); got != errorEvents[0].Message {
		t.Fatalf("model turn renders %q, error says %q", got, errorEvents[0].Message)
	}
}

func TestSubmit_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"quota", &apperr.ProviderError{Provider: "gemini", Quota: true, Err: errors.New("RESOURCE_EXHAUSTED")}, "exceeded free quota"},
		{"rate limit text", errors.New("http status 429: Too Many Requests"), "exceeded free quota"},
		{"other", &apperr.ProviderError{Provider: "openai", Err: errors.New("bad gateway")}, "model processing error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &scriptedProvider{err: tt.err})
			rec := &stream.Recorder{}
			if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "hi"}, rec); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			events := rec.Events()
			last := events[len(events)-1]
			payload, err := last.ErrorPayload()
			if last.Type != stream.TypeError || err != nil || payload.Message != tt.want {
				t.Fatalf("last event=%s payload=%+v", last.Type, payload)
			}
			models := modelTurns(h.turns(t, sessionIDOf(t, rec)))
			if len(models) != 1 || models[0].Parts[0].Call.Arguments["content"] != tt.want {
				t.Fatalf("model turns=%+v", models)
			}
		})
	}
}

func TestSubmit_ListScriptsWithNoScripts(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{`{"action":"listScripts","parameters":{}}`}}})
	rec := &stream.Recorder{}
	if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "list my scripts"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env := finalOf(t, rec)
	if env.Action != "reply" || !strings.Contains(action.Render(env), "no scripts") {
		t.Fatalf("final=%+v", env)
	}
	turns := h.turns(t, sessionIDOf(t, rec))
	if len(modelTurns(turns)) != 1 {
		t.Fatalf("model turns=%d, want 1", len(modelTurns(turns)))
	}
	roles := make([]chat.Role, len(turns))
	for i, turn := range turns {
		roles[i] = turn.Role
	}
	if diff := cmp.Diff([]chat.Role{chat.RoleUser, chat.RoleModel, chat.RoleFunction}, roles); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_RunCommandAnnouncesCommand(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{`{"action":"runCommand","parameters":{"command":"ls","args":["-la"]}}`}}})
	rec := &stream.Recorder{}
	if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "list files"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	types := rec.Types()
	if types[len(types)-2] != stream.TypeCommandExec {
		t.Fatalf("types=%v", types)
	}
	env := finalOf(t, rec)
	if diff := cmp.Diff(action.Encode(action.RunCommand{Command: "ls", Args: []string{"-la"}}).JSON(), env.JSON()); diff != "" {
		t.Fatalf("final mismatch (-want +got):\n%s", diff)
	}
	// remote actions have no function turn until the client reports back
	if got := len(h.turns(t, sessionIDOf(t, rec))); got != 2 {
		t.Fatalf("turns=%d, want 2", got)
	}
}

func TestSubmit_CreateScriptStreamsCode(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{`{"action":"createScript","parameters":{"name":"hi.py","code":"print('hi')"}}`}}})
	rec := &stream.Recorder{}
	if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "make a script"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var code stream.CodeChunk
	for _, ev := range rec.Events() {
		if ev.Type == stream.TypeCodeChunk {
			c, err := ev.CodeChunk()
			if err != nil {
				t.Fatal(err)
			}
			code = c
		}
	}
	if code != (stream.CodeChunk{Language: "python", Value: "print('hi')"}) {
		t.Fatalf("code chunk=%+v", code)
	}
	if env := finalOf(t, rec); env.Action != "reply" {
		t.Fatalf("final=%+v", env)
	}
}

func TestSubmit_UnknownActionBecomesReply(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{`{"action":"formatDisk","parameters":{}}`}}})
	rec := &stream.Recorder{}
	if err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "do it"}, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env := finalOf(t, rec)
	if env.Action != "reply" || !strings.Contains(action.Render(env), "formatDisk") {
		t.Fatalf("final=%+v", env)
	}
	if got := len(modelTurns(h.turns(t, sessionIDOf(t, rec)))); got != 1 {
		t.Fatalf("model turns=%d, want 1", got)
	}
}

func TestSubmit_UserCancelPersistsSingleReply(t *testing.T) {
	p := &scriptedProvider{
		replies:         [][]string{{`{"action":"reply",`, `"parameters":{"content":"never"}}`}},
		blockAfterFirst: true,
		started:         make(chan struct{}),
	}
	h := newHarness(t, p)
	sess, err := h.store.CreateSession(context.Background(), storage.Session{UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	rec := &stream.Recorder{}
	go func() {
		done <- h.engine.Submit(context.Background(), Request{UserID: "u1", SessionID: sess.ID, Message: "long task"}, rec)
	}()
	<-p.started
	if !h.engine.Cancel(sess.ID) {
		t.Fatal("Cancel found no active generation")
	}
	if err := <-done; !errors.Is(err, apperr.ErrCancelledByUser) {
		t.Fatalf("Submit err=%v", err)
	}

	models := modelTurns(h.turns(t, sess.ID))
	if len(models) != 1 || models[0].Parts[0].Call.Arguments["content"] != "cancelled by user" {
		t.Fatalf("model turns=%+v", models)
	}
	if env := finalOf(t, rec); action.Render(env) != "cancelled by user" {
		t.Fatalf("final=%+v", env)
	}
	if h.engine.Cancel(sess.ID) {
		t.Fatal("no generation should remain active")
	}
}

func TestSubmit_DisconnectPersistsNothing(t *testing.T) {
	p := &scriptedProvider{
		replies:         [][]string{{`{"action":"reply",`, `"parameters":{"content":"never"}}`}},
		blockAfterFirst: true,
		started:         make(chan struct{}),
	}
	h := newHarness(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	rec := &stream.Recorder{}
	go func() {
		done <- h.engine.Submit(ctx, Request{UserID: "u1", Message: "long task"}, rec)
	}()
	<-p.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit err=%v", err)
	}
	turns := h.turns(t, sessionIDOf(t, rec))
	if len(turns) != 1 || turns[0].Role != chat.RoleUser {
		t.Fatalf("only the user turn should exist, got %+v", turns)
	}
}

func TestSubmit_SinkFailureStopsGeneration(t *testing.T) {
	h := newHarness(t, &scriptedProvider{replies: [][]string{{`{"action":"reply","parameters":{"content":"x"}}`}}})
	sink := stream.SinkFunc(func(ev stream.Event) error {
		if ev.Type == stream.TypeTextChunk {
			return errors.New("broken pipe")
		}
		return nil
	})
	err := h.engine.Submit(context.Background(), Request{UserID: "u1", Message: "hi"}, sink)
	if err == nil {
		t.Fatal("expected an error once the client is gone")
	}
}

func TestSubmit_SerializesPerSession(t *testing.T) {
	p := &scriptedProvider{
		replies: [][]string{{`{"action":"reply","parameters":{"content":"ok"}}`}},
		delay:   20 * time.Millisecond,
	}
	h := newHarness(t, p)
	sess, err := h.store.CreateSession(context.Background(), storage.Session{UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.engine.Submit(context.Background(), Request{UserID: "u1", SessionID: sess.ID, Message: "hi"}, &stream.Recorder{}); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := p.maxSeen.Load(); got != 1 {
		t.Fatalf("max concurrent generations=%d, want 1", got)
	}
	turns := h.turns(t, sess.ID)
	if len(turns) != 8 {
		t.Fatalf("turns=%d, want 8", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != chat.RoleUser || turns[i+1].Role != chat.RoleModel {
			t.Fatalf("turns interleaved at %d: %s then %s", i, turns[i].Role, turns[i+1].Role)
		}
	}
	if n := h.engine.locks.size(); n != 0 {
		t.Fatalf("locks left=%d", n)
	}
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	tests := []Request{
		{UserID: "u1", Message: "   "},
		{Message: "hi"},
		{UserID: "u1", Message: "hi", ImageBase64: "%%%"},
		{UserID: "u1", Message: "hi", ImageBase64: "aGVsbG8="},
	}
	for _, req := range tests {
		rec := &stream.Recorder{}
		err := h.engine.Submit(context.Background(), req, rec)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Submit(%+v) err=%v, want ValidationError", req, err)
		}
		if len(rec.Events()) != 0 {
			t.Fatalf("validation failure must not stream: %v", rec.Types())
		}
	}
	if _, total, _ := h.store.ListSessions(context.Background(), "u1", 10, 0); total != 0 {
		t.Fatalf("sessions=%d, want 0", total)
	}
}

func TestValidate_ImageAttached(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	png := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	parts, err := h.engine.Validate(Request{UserID: "u1", Message: "what is this", ImageBase64: png})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(parts) != 2 || parts[1].Kind != chat.PartInlineMedia || parts[1].Media.MIMEType != "image/png" {
		t.Fatalf("parts=%+v", parts)
	}
}

func TestSessionLocksAcquireHonoursContext(t *testing.T) {
	l := newSessionLocks()
	release, err := l.acquire(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx, "s"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second acquire err=%v", err)
	}
	release()
	release()
	if l.size() != 0 {
		t.Fatalf("size=%d after release", l.size())
	}
}

func TestActionEventsAndLanguage(t *testing.T) {
	events := actionEvents(action.RunScript{Name: "b.ps1"}, action.RunScript{Name: "b.ps1", Code: "dir", Path: "scripts/b.ps1"})
	var types []stream.Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	if diff := cmp.Diff([]stream.Type{stream.TypeCodeChunk, stream.TypeCommandExec}, types); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}
	if got := actionEvents(action.Reply{Content: "x"}, action.Reply{Content: "x"}); len(got) != 0 {
		t.Fatalf("reply should have no extra events: %v", got)
	}
	for name, want := range map[string]string{"a.SH": "bash", "b.ps1": "powershell", "c": "text"} {
		if got := LanguageFor(name); got != want {
			t.Errorf("LanguageFor(%q)=%q, want %q", name, got, want)
		}
	}
}
