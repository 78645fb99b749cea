package orchestrator

import (
	"context"

	"deskagent/internal/action"
	"deskagent/internal/chat"
	"deskagent/internal/contextmgr"
	"deskagent/internal/dispatch"
)

// Request 一次用户提交 / Request is one user submission
type Request struct {
	UserID      string
	SessionID   string
	Message     string
	ImageBase64 string
	Platform    string
}

// TurnStore 引擎写入轮次所需的接口
// TurnStore appends turns on behalf of the engine
type TurnStore interface {
	AppendTurn(ctx context.Context, sessionID string, role chat.Role, parts []chat.Part) (chat.Turn, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, candidateID, userID, firstMessage string) (string, bool, error)
}

type PromptBuilder interface {
	Build(ctx context.Context, req contextmgr.Request) ([]chat.Message, error)
}

// Indexer embeds turns in the background; failures never reach the engine.
type Indexer interface {
	Index(turn chat.Turn)
}

type ActionDispatcher interface {
	Dispatch(ctx context.Context, a action.Action, userID, sessionID string) dispatch.Result
}

type Options struct {
	MaxOutputTokens int
}

const (
	msgQuota      = "exceeded free quota"
	msgModelError = "model processing error"
	msgCancelled  = "cancelled by user"
	msgInternal   = "internal error"
)
