package tools

import (
	"context"

	"deskagent/internal/action"
)

// Call 一次本地执行请求 / Call is one local execution request
type Call struct {
	UserID    string
	SessionID string
	Action    action.Action
}

// Result 本地协作方返回 {success, output|content, error?}
// Result is what a local collaborator reports back
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outcome pairs the action the client receives with the result persisted
// on a function turn. Result is nil when nothing ran locally.
type Outcome struct {
	Final  action.Action
	Result *Result
}

// Tool 在服务端执行一种动作 / Tool carries out one action server-side
type Tool interface {
	Name() action.Name
	Execute(ctx context.Context, call Call) (Outcome, error)
}

// ApprovalRequest 描述需要用户确认的远程动作
// ApprovalRequest describes a remote action waiting for user consent
type ApprovalRequest struct {
	Tool    string
	Summary string
	Reason  string
}
