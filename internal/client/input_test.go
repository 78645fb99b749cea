package client

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestPlainInputJoinsContinuationLines(t *testing.T) {
	var out bytes.Buffer
	in := NewPlainInput(strings.NewReader("write a script that \\\nbacks up my photos\r\n/history\nlast\\"), &out)

	got, err := in.ReadLine("> ")
	if err != nil || got != "write a script that \nbacks up my photos" {
		t.Fatalf("first message=%q, err=%v", got, err)
	}
	if out.String() != "> "+continuationPrompt {
		t.Fatalf("prompts=%q", out.String())
	}
	if got, err := in.ReadLine("> "); err != nil || got != "/history" {
		t.Fatalf("second message=%q, err=%v", got, err)
	}
	// a dangling continuation at EOF still yields what was typed
	if got, err := in.ReadLine("> "); err != nil || got != "last" {
		t.Fatalf("third message=%q, err=%v", got, err)
	}
	if _, err := in.ReadLine("> "); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestSlashCompleter(t *testing.T) {
	var names []string
	for _, item := range slashCompleter().GetChildren() {
		names = append(names, strings.TrimSpace(string(item.GetName())))
	}
	if len(names) != len(replCommands) || names[0] != "/help" || names[len(names)-1] != "/exit" {
		t.Fatalf("completions=%v", names)
	}
}
