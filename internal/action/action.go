// Package action defines the closed set of structured instructions a model
// turn resolves to, and validates untyped model output against it.
package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"deskagent/internal/apperr"
	"deskagent/internal/chat"
)

// Name is the tag of an action variant.
type Name string

const (
	NameReply         Name = "reply"
	NameRunCommand    Name = "runCommand"
	NameEditFile      Name = "editFile"
	NameCreateScript  Name = "createScript"
	NameListScripts   Name = "listScripts"
	NameRunScript     Name = "runScript"
	NameCaptureScreen Name = "captureScreen"
	NameReadFile      Name = "readFile"
)

// Names lists every known action in schema order.
var Names = []Name{
	NameReply, NameRunCommand, NameEditFile, NameCreateScript,
	NameListScripts, NameRunScript, NameCaptureScreen, NameReadFile,
}

// Action is one validated variant.
type Action interface {
	Kind() Name
	Parameters() map[string]any
}

type Reply struct {
	Content string
}

type RunCommand struct {
	Command string
	Args    []string
}

type EditFile struct {
	Path       string
	NewContent string
}

type CreateScript struct {
	Name        string
	Description string
	Code        string
}

type ListScripts struct{}

// RunScript names a saved script. Code, Path and Description are filled by
// the dispatcher once the script is resolved for the client.
type RunScript struct {
	Name        string
	Code        string
	Path        string
	Description string
}

type CaptureScreen struct{}

type ReadFile struct {
	Path string
}

func (Reply) Kind() Name         { return NameReply }
func (RunCommand) Kind() Name    { return NameRunCommand }
func (EditFile) Kind() Name      { return NameEditFile }
func (CreateScript) Kind() Name  { return NameCreateScript }
func (ListScripts) Kind() Name   { return NameListScripts }
func (RunScript) Kind() Name     { return NameRunScript }
func (CaptureScreen) Kind() Name { return NameCaptureScreen }
func (ReadFile) Kind() Name      { return NameReadFile }

func (a Reply) Parameters() map[string]any {
	return map[string]any{"content": a.Content}
}

func (a RunCommand) Parameters() map[string]any {
	args := a.Args
	if args == nil {
		args = []string{}
	}
	return map[string]any{"command": a.Command, "args": args}
}

func (a EditFile) Parameters() map[string]any {
	return map[string]any{"path": a.Path, "newContent": a.NewContent}
}

func (a CreateScript) Parameters() map[string]any {
	p := map[string]any{"name": a.Name, "code": a.Code}
	if a.Description != "" {
		p["description"] = a.Description
	}
	return p
}

func (ListScripts) Parameters() map[string]any { return map[string]any{} }

func (a RunScript) Parameters() map[string]any {
	p := map[string]any{"name": a.Name}
	if a.Code != "" {
		p["code"] = a.Code
	}
	if a.Path != "" {
		p["path"] = a.Path
	}
	if a.Description != "" {
		p["description"] = a.Description
	}
	return p
}

func (CaptureScreen) Parameters() map[string]any { return map[string]any{} }

func (a ReadFile) Parameters() map[string]any {
	return map[string]any{"path": a.Path}
}

// Envelope is the wire and persisted form: {"action": ..., "parameters": ...}.
type Envelope struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Encode converts a validated action to its envelope.
func Encode(a Action) Envelope {
	return Envelope{Action: string(a.Kind()), Parameters: a.Parameters()}
}

// JSON renders the envelope compactly.
func (e Envelope) JSON() string {
	if e.Parameters == nil {
		e.Parameters = map[string]any{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"action":%q,"parameters":{}}`, e.Action)
	}
	return string(data)
}

// Parse decodes the accumulated model output as exactly one action object.
// Malformed JSON yields *apperr.ParseError; schema violations yield
// *apperr.UnknownActionError or *apperr.ActionValidationError.
func Parse(raw string) (Action, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, &apperr.ParseError{Raw: raw, Err: fmt.Errorf("empty model output")}
	}
	var env Envelope
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, &apperr.ParseError{Raw: raw, Err: err}
	}
	if dec.More() {
		return nil, &apperr.ParseError{Raw: raw, Err: fmt.Errorf("trailing data after action object")}
	}
	if strings.TrimSpace(env.Action) == "" {
		return nil, &apperr.ParseError{Raw: raw, Err: fmt.Errorf("missing \"action\" field")}
	}
	return Decode(env)
}

// Decode validates an envelope against the action schema.
func Decode(env Envelope) (Action, error) {
	p := params{name: env.Action, m: env.Parameters}
	switch Name(strings.TrimSpace(env.Action)) {
	case NameReply:
		content, err := p.str("content", false)
		if err != nil {
			return nil, err
		}
		if content == "" {
			// older turns carried the reply body under "text"
			content, err = p.str("text", false)
			if err != nil {
				return nil, err
			}
		}
		if content == "" {
			return nil, p.invalid("content", "is required")
		}
		return Reply{Content: content}, nil
	case NameRunCommand:
		cmd, err := p.str("command", true)
		if err != nil {
			return nil, err
		}
		args, err := p.strSlice("args")
		if err != nil {
			return nil, err
		}
		return RunCommand{Command: cmd, Args: args}, nil
	case NameEditFile:
		path, err := p.str("path", true)
		if err != nil {
			return nil, err
		}
		if _, ok := p.m["newContent"]; !ok {
			return nil, p.invalid("newContent", "is required")
		}
		content, err := p.str("newContent", false)
		if err != nil {
			return nil, err
		}
		return EditFile{Path: path, NewContent: content}, nil
	case NameCreateScript:
		name, err := p.str("name", true)
		if err != nil {
			return nil, err
		}
		code, err := p.str("code", true)
		if err != nil {
			return nil, err
		}
		desc, err := p.str("description", false)
		if err != nil {
			return nil, err
		}
		return CreateScript{Name: name, Description: desc, Code: code}, nil
	case NameListScripts:
		return ListScripts{}, nil
	case NameRunScript:
		name, err := p.str("name", true)
		if err != nil {
			return nil, err
		}
		code, _ := p.str("code", false)
		path, _ := p.str("path", false)
		desc, _ := p.str("description", false)
		return RunScript{Name: name, Code: code, Path: path, Description: desc}, nil
	case NameCaptureScreen:
		return CaptureScreen{}, nil
	case NameReadFile:
		path, err := p.str("path", false)
		if err != nil {
			return nil, err
		}
		if path == "" {
			path, err = p.str("filePath", false)
			if err != nil {
				return nil, err
			}
		}
		if path == "" {
			return nil, p.invalid("path", "is required")
		}
		return ReadFile{Path: path}, nil
	default:
		return nil, &apperr.UnknownActionError{Name: env.Action}
	}
}

// FromCall rebuilds an action from a persisted action-call part.
func FromCall(call *chat.ActionCall) (Action, error) {
	if call == nil {
		return nil, &apperr.ParseError{Err: fmt.Errorf("nil action call")}
	}
	return Decode(Envelope{Action: call.Name, Parameters: call.Arguments})
}

// ToPart converts an action to the part persisted on a model turn.
func ToPart(a Action) chat.Part {
	return chat.CallPart(string(a.Kind()), a.Parameters())
}

// IsRemote reports whether the client must carry out n on the user machine.
func IsRemote(n Name) bool {
	switch n {
	case NameRunCommand, NameRunScript, NameCaptureScreen, NameReadFile:
		return true
	}
	return false
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type params struct {
	name string
	m    map[string]any
}

func (p params) invalid(field, reason string) error {
	return &apperr.ActionValidationError{Action: p.name, Field: field, Reason: reason}
}

func (p params) str(key string, required bool) (string, error) {
	v, ok := p.m[key]
	if !ok || v == nil {
		if required {
			return "", p.invalid(key, "is required")
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", p.invalid(key, fmt.Sprintf("must be a string, got %T", v))
	}
	if required && strings.TrimSpace(s) == "" {
		return "", p.invalid(key, "must not be empty")
	}
	return s, nil
}

func (p params) strSlice(key string) ([]string, error) {
	v, ok := p.m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...), nil
	case string:
		if strings.TrimSpace(vv) == "" {
			return nil, nil
		}
		return []string{vv}, nil
	case []any:
		out := make([]string, 0, len(vv))
		for i, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, p.invalid(fmt.Sprintf("%s[%d]", key, i), fmt.Sprintf("must be a string, got %T", item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, p.invalid(key, fmt.Sprintf("must be an array of strings, got %T", v))
	}
}
