// Package session maps client-supplied session ids onto durable sessions.
package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"deskagent/internal/storage"
)

// Store 解析器需要的存储子集 / the storage subset the resolver needs
type Store interface {
	CreateSession(ctx context.Context, s storage.Session) (storage.Session, error)
	FindSession(ctx context.Context, userID, id string) (storage.Session, error)
}

// Resolver 将可能是伪造的会话 ID 解析为真实会话，首次接触时创建
// Resolver turns a possibly fabricated session id into a durable one,
// creating the session on first contact.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve 查找 candidateID（限定 userID）；未命中（含 temp-* 占位或他人会话）即新建
// Resolve looks candidateID up for userID. A miss, including placeholder ids
// and sessions owned by someone else, starts a new session titled from
// firstMessage and reports isNew.
func (r *Resolver) Resolve(ctx context.Context, candidateID, userID, firstMessage string) (string, bool, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID != "" {
		sess, err := r.store.FindSession(ctx, userID, candidateID)
		if err == nil {
			return sess.ID, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", false, err
		}
		r.logger.Debug("session not resolvable, starting new one",
			zap.String("candidate", candidateID), zap.String("user_id", userID))
	}

	sess, err := r.store.CreateSession(ctx, storage.Session{
		UserID: userID,
		Title:  storage.TitleFrom(firstMessage),
	})
	if err != nil {
		return "", false, err
	}
	r.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("user_id", userID))
	return sess.ID, true, nil
}
