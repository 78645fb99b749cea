package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deskagent/internal/action"
)

func TestEncoderWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range []Event{
		SessionID("sess_1"),
		TextChunk("{\"action\":"),
		Final(action.Encode(action.Reply{Content: "hi"})),
	} {
		if err := enc.Send(ev); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	want := strings.Join([]string{
		`{"type":"session_id","payload":"sess_1"}`,
		`{"type":"text_chunk","payload":"{\"action\":"}`,
		`{"type":"final","payload":{"action":"reply","parameters":{"content":"hi"}}}`,
	}, "\n") + "\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderReadsEventsAndSkipsBlankLines(t *testing.T) {
	input := `{"type":"text_chunk","payload":"a"}` + "\n\n" +
		`{"type":"code_chunk","payload":{"language":"python","value":"print(1)"}}` + "\n" +
		`{"type":"command_exec","payload":{"command":"ls","args":["-la"]}}` + "\n" +
		`{"type":"error","payload":{"message":"exceeded free quota"}}`
	dec := NewDecoder(strings.NewReader(input))

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if s, _ := ev.Text(); ev.Type != TypeTextChunk || s != "a" {
		t.Fatalf("event=%+v", ev)
	}

	ev, _ = dec.Next()
	code, err := ev.CodeChunk()
	if err != nil || code.Language != "python" || code.Value != "print(1)" {
		t.Fatalf("code=%+v err=%v", code, err)
	}

	ev, _ = dec.Next()
	cmd, err := ev.CommandExec()
	if err != nil || cmd.Command != "ls" || len(cmd.Args) != 1 {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}

	ev, _ = dec.Next()
	if !ev.Terminal() {
		t.Fatalf("error event should be terminal")
	}
	p, err := ev.ErrorPayload()
	if err != nil || p.Message != "exceeded free quota" {
		t.Fatalf("payload=%+v err=%v", p, err)
	}

	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want io.EOF", err)
	}
}

func TestDecoderRejectsGarbage(t *testing.T) {
	if _, err := NewDecoder(strings.NewReader("not json\n")).Next(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFinalEnvelopeRoundTrip(t *testing.T) {
	ev := Final(action.Encode(action.RunCommand{Command: "ls", Args: []string{"my dir"}}))
	env, err := ev.Envelope()
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	a, err := action.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(action.RunCommand{Command: "ls", Args: []string{"my dir"}}, a); diff != "" {
		t.Fatalf("action mismatch (-want +got):\n%s", diff)
	}
}
