package storage

import (
	"context"
	"errors"

	"deskagent/internal/chat"
)

// ErrNotFound 记录不存在（或不属于该用户）
// ErrNotFound means the record does not exist or is owned by another user
var ErrNotFound = errors.New("not found")

// Store 持久化接口：会话、轮次、脚本与用户记忆
// Store is the persistence interface for sessions, turns, scripts and memories
type Store interface {
	// Session 操作 / Session operations
	CreateSession(ctx context.Context, s Session) (Session, error)
	FindSession(ctx context.Context, userID, id string) (Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]Session, int, error)

	// Turn 操作（只追加）/ Turn operations (append-only)
	AppendTurn(ctx context.Context, sessionID string, role chat.Role, parts []chat.Part) (chat.Turn, error)
	PageTurns(ctx context.Context, sessionID string, limit, offset int) ([]chat.Turn, int, error)
	AttachEmbedding(ctx context.Context, turnID string, vec []float32) error
	EmbeddedTurns(ctx context.Context, sessionID string) ([]chat.Turn, error)

	// Script 操作（按 userId+name upsert）/ Script operations (upsert by userId+name)
	UpsertScript(ctx context.Context, s Script) (Script, error)
	FindScript(ctx context.Context, userID, name string) (Script, error)
	ListScripts(ctx context.Context, userID string) ([]Script, error)

	// Memory 操作 / Memory operations
	AddMemory(ctx context.Context, userID, content string) (Memory, error)
	ListMemories(ctx context.Context, userID string) ([]Memory, error)

	// 生命周期 / Lifecycle
	Close() error
}
