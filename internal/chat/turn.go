package chat

import (
	"strings"
	"time"
)

// Role 会话轮次的角色
// Role tags who produced a turn
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
)

// Valid reports whether r is one of the three persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleFunction:
		return true
	}
	return false
}

// PartKind 片段类型
// PartKind is the tag of a Part variant
type PartKind string

const (
	PartText         PartKind = "text"
	PartInlineMedia  PartKind = "inline_media"
	PartActionCall   PartKind = "action_call"
	PartActionResult PartKind = "action_result"
)

// InlineMedia is binary content carried inside a turn.
type InlineMedia struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// ActionCall is the structured action a model turn resolved to.
type ActionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ActionResult is the outcome of executing an action.
type ActionResult struct {
	Name   string `json:"name"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Part is one typed fragment of a turn. Exactly one of the payload fields
// matching Kind is set.
type Part struct {
	Kind   PartKind      `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Media  *InlineMedia  `json:"inline_media,omitempty"`
	Call   *ActionCall   `json:"action_call,omitempty"`
	Result *ActionResult `json:"action_result,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func MediaPart(data []byte, mimeType string) Part {
	return Part{Kind: PartInlineMedia, Media: &InlineMedia{Data: data, MIMEType: mimeType}}
}

func CallPart(name string, args map[string]any) Part {
	return Part{Kind: PartActionCall, Call: &ActionCall{Name: name, Arguments: args}}
}

func ResultPart(name, output, errMsg string) Part {
	return Part{Kind: PartActionResult, Result: &ActionResult{Name: name, Output: output, Error: errMsg}}
}

// Usable reports whether the part carries any content worth sending.
func (p Part) Usable() bool {
	switch p.Kind {
	case PartText:
		return strings.TrimSpace(p.Text) != ""
	case PartInlineMedia:
		return p.Media != nil && len(p.Media.Data) > 0
	case PartActionCall:
		return p.Call != nil && p.Call.Name != ""
	case PartActionResult:
		return p.Result != nil && p.Result.Name != ""
	}
	return false
}

// Turn 会话中的一轮（不可变）
// Turn is one immutable, role-tagged entry in a session log
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text joins the text parts of a turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Kind != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
