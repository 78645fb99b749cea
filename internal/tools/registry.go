package tools

import (
	"context"
	"fmt"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
)

type Registry struct {
	tools map[action.Name]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[action.Name]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

func (r *Registry) Execute(ctx context.Context, call Call) (Outcome, error) {
	if call.Action == nil {
		return Outcome{}, fmt.Errorf("execute: nil action")
	}
	t, ok := r.tools[call.Action.Kind()]
	if !ok {
		return Outcome{}, &apperr.UnknownActionError{Name: string(call.Action.Kind())}
	}
	return t.Execute(ctx, call)
}
