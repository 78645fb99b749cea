// Package dispatch routes a validated model action to the executor that owns
// it: server-side tools, or the desktop client.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/chat"
	"deskagent/internal/config"
	"deskagent/internal/security"
	"deskagent/internal/tools"
)

// Result 分发结果 / Result is what the engine needs after routing an action
type Result struct {
	// Final is sent to the client in the final event.
	Final action.Action
	// Local is the action_result part of a function turn, set when a
	// server-side executor ran.
	Local *chat.Part
	// Remote means the client must carry out Final.
	Remote bool
}

type Dispatcher struct {
	tools        *tools.Registry
	editFileMode string
	logger       *zap.Logger
}

func New(registry *tools.Registry, editFileMode string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if editFileMode == "" {
		editFileMode = config.EditFileLocal
	}
	return &Dispatcher{tools: registry, editFileMode: editFileMode, logger: logger}
}

// Dispatch 执行路由；执行器的失败被转换为可见的 reply，从不向上抛出
// Dispatch routes a. Executor failures become a visible reply and never
// escape to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, a action.Action, userID, sessionID string) Result {
	switch v := a.(type) {
	case action.Reply:
		return Result{Final: v}
	case action.RunCommand, action.CaptureScreen:
		return Result{Final: v, Remote: true}
	case action.ReadFile:
		if err := security.CheckPath(v.Path); err != nil {
			return d.failed(a, err, false)
		}
		return Result{Final: v, Remote: true}
	case action.EditFile:
		if err := security.CheckPath(v.Path); err != nil {
			return d.failed(a, err, false)
		}
		if d.editFileMode == config.EditFileRemote {
			return Result{Final: v, Remote: true}
		}
		return d.local(ctx, v, userID, sessionID)
	case action.RunScript:
		res := d.local(ctx, v, userID, sessionID)
		if _, ok := res.Final.(action.RunScript); ok {
			res.Remote = true
		}
		return res
	case action.CreateScript, action.ListScripts:
		return d.local(ctx, v, userID, sessionID)
	case nil:
		return d.failed(a, fmt.Errorf("no action"), false)
	default:
		return d.failed(a, &apperr.UnknownActionError{Name: string(a.Kind())}, false)
	}
}

func (d *Dispatcher) local(ctx context.Context, a action.Action, userID, sessionID string) Result {
	out, err := d.tools.Execute(ctx, tools.Call{UserID: userID, SessionID: sessionID, Action: a})
	if err != nil {
		d.logger.Warn("local action failed",
			zap.String("action", string(a.Kind())),
			zap.String("session_id", sessionID),
			zap.Error(err))
		// runScript only looks up; no function turn for a failed lookup
		return d.failed(a, err, a.Kind() != action.NameRunScript)
	}
	res := Result{Final: out.Final}
	if out.Result != nil {
		part := chat.ResultPart(string(a.Kind()), resultOutput(*out.Result), out.Result.Error)
		res.Local = &part
	}
	return res
}

func (d *Dispatcher) failed(a action.Action, err error, recordResult bool) Result {
	res := Result{Final: FailureReply(a, err)}
	if recordResult && a != nil {
		part := chat.ResultPart(string(a.Kind()), "", err.Error())
		res.Local = &part
	}
	return res
}

// FailureReply 把执行或校验失败描述成对用户可见的回复
// FailureReply describes a failed or rejected action to the user
func FailureReply(a action.Action, err error) action.Reply {
	var (
		pathErr    *apperr.PathTraversalError
		unknown    *apperr.UnknownActionError
		invalidArg *apperr.ActionValidationError
	)
	switch {
	case errors.As(err, &pathErr) && pathErr.OutsideRoot:
		return action.Reply{Content: fmt.Sprintf("I can't access %q: it is outside your workspace.", pathErr.Path)}
	case errors.As(err, &pathErr):
		return action.Reply{Content: fmt.Sprintf("I can't access %q: paths containing \"..\" are not allowed.", pathErr.Path)}
	case errors.As(err, &unknown):
		return action.Reply{Content: fmt.Sprintf("I tried to use an action I don't support (%q). Please rephrase your request.", unknown.Name)}
	case errors.As(err, &invalidArg):
		return action.Reply{Content: fmt.Sprintf("I produced an invalid %s action (%s %s). Please try again.", invalidArg.Action, invalidArg.Field, invalidArg.Reason)}
	}
	name := "the action"
	if a != nil {
		name = string(a.Kind())
	}
	return action.Reply{Content: fmt.Sprintf("Sorry, %s failed: %v", name, err)}
}

func resultOutput(r tools.Result) string {
	if r.Output != "" {
		return r.Output
	}
	return r.Content
}
