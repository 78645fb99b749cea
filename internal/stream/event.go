// Package stream defines the NDJSON event protocol between server and client.
package stream

import (
	"encoding/json"
	"fmt"

	"deskagent/internal/action"
)

// ContentType of every generation response body.
const ContentType = "application/x-ndjson"

// Type 事件类型 / event type tag
type Type string

const (
	TypeSessionID   Type = "session_id"
	TypeTextChunk   Type = "text_chunk"
	TypeCodeChunk   Type = "code_chunk"
	TypeCommandExec Type = "command_exec"
	TypeError       Type = "error"
	TypeFinal       Type = "final"
)

// Event is one NDJSON frame: {"type": ..., "payload": ...}.
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Terminal reports whether the event ends a turn.
func (e Event) Terminal() bool {
	return e.Type == TypeFinal || e.Type == TypeError
}

type CodeChunk struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type CommandExec struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newEvent(t Type, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(payload))
	}
	return Event{Type: t, Payload: data}
}

func SessionID(id string) Event { return newEvent(TypeSessionID, id) }

func TextChunk(text string) Event { return newEvent(TypeTextChunk, text) }

func Code(language, value string) Event {
	return newEvent(TypeCodeChunk, CodeChunk{Language: language, Value: value})
}

func Command(command string, args []string) Event {
	if args == nil {
		args = []string{}
	}
	return newEvent(TypeCommandExec, CommandExec{Command: command, Args: args})
}

func Error(message, details string) Event {
	return newEvent(TypeError, ErrorPayload{Message: message, Details: details})
}

func Final(env action.Envelope) Event {
	if env.Parameters == nil {
		env.Parameters = map[string]any{}
	}
	return newEvent(TypeFinal, env)
}

// --- Payload accessors ---

func (e Event) Text() (string, error) {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return "", fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return s, nil
}

func (e Event) Envelope() (action.Envelope, error) {
	var env action.Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return action.Envelope{}, fmt.Errorf("final payload: %w", err)
	}
	return env, nil
}

func (e Event) ErrorPayload() (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("error payload: %w", err)
	}
	return p, nil
}

func (e Event) CodeChunk() (CodeChunk, error) {
	var p CodeChunk
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return CodeChunk{}, fmt.Errorf("code_chunk payload: %w", err)
	}
	return p, nil
}

func (e Event) CommandExec() (CommandExec, error) {
	var p CommandExec
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return CommandExec{}, fmt.Errorf("command_exec payload: %w", err)
	}
	return p, nil
}
