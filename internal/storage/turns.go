package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"deskagent/internal/chat"
)

// --- Turn Operations ---

// AppendTurn 同步写入一轮并在同一事务中更新会话 updated_at
// AppendTurn commits one turn and bumps the session's updated_at in the same transaction
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, role chat.Role, parts []chat.Part) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, fmt.Errorf("invalid turn role %q", role)
	}
	if parts == nil {
		parts = []chat.Part{}
	}
	turn := chat.Turn{
		ID:        NewTurnID(),
		SessionID: sessionID,
		Role:      role,
		Parts:     parts,
		CreatedAt: s.nowUTC(),
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("marshal parts: %w", err)
	}
	if err := s.insertTurn(ctx, turn, string(role), sql.NullString{String: string(partsJSON), Valid: true}, turn.Text(), sql.NullString{}); err != nil {
		return chat.Turn{}, err
	}
	return turn, nil
}

func (s *SQLiteStore) insertTurn(ctx context.Context, turn chat.Turn, role string, parts sql.NullString, content string, image sql.NullString) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := writeTurn(ctx, tx, turn, role, parts, content, image); err != nil {
		return err
	}
	return tx.Commit()
}

// writeTurn inserts one row and bumps the owning session inside tx.
func writeTurn(ctx context.Context, tx *sql.Tx, turn chat.Turn, role string, parts sql.NullString, content string, image sql.NullString) error {
	ts := formatTime(turn.CreatedAt)
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=? AND updated_at<=?`, ts, turn.SessionID, ts)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// updated_at 已更新（迁移旧数据时）或会话不存在
		// updated_at may already be newer (legacy import) or the session is missing
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id=?`, turn.SessionID).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", turn.SessionID, ErrNotFound)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, role, parts, content, image_base64, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, role, parts, content, image, ts,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// PageTurns 倒序分页读取（最新在前），返回总数
// PageTurns reads turns newest-first and reports the session's total count
func (s *SQLiteStore) PageTurns(ctx context.Context, sessionID string, limit, offset int) ([]chat.Turn, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id=?`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, parts, content, image_base64, embedding, created_at
		FROM turns WHERE session_id=?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?`, sessionID, sqlLimit(limit), sqlOffset(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}

// AttachEmbedding 是轮次唯一允许的修改
// AttachEmbedding is the only mutation a stored turn accepts
func (s *SQLiteStore) AttachEmbedding(ctx context.Context, turnID string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE turns SET embedding=? WHERE id=?`, encodeEmbedding(vec), turnID)
	if err != nil {
		return fmt.Errorf("attach embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("turn %s: %w", turnID, ErrNotFound)
	}
	return nil
}

// EmbeddedTurns returns the session's turns that carry an embedding, oldest first.
func (s *SQLiteStore) EmbeddedTurns(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, parts, content, image_base64, embedding, created_at
		FROM turns WHERE session_id=? AND embedding IS NOT NULL
		ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query embedded turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// ImportLegacySession 在一个事务中写入会话及其旧格式行（parts 为 NULL）
// ImportLegacySession creates sess and its flat-column rows in one
// transaction, so a failed import leaves nothing behind. Rows keep their
// legacy role and are normalized on read.
func (s *SQLiteStore) ImportLegacySession(ctx context.Context, sess Session, rows []LegacyRow) (Session, error) {
	sess, err := s.prepareSession(sess)
	if err != nil {
		return Session{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSession(ctx, tx, sess); err != nil {
		return Session{}, err
	}
	for i, row := range rows {
		if strings.TrimSpace(row.Role) == "" {
			return Session{}, fmt.Errorf("legacy row %d: role is empty", i)
		}
		createdAt := row.CreatedAt
		if createdAt.IsZero() {
			createdAt = sess.CreatedAt
		}
		turn := chat.Turn{ID: NewTurnID(), SessionID: sess.ID, CreatedAt: createdAt.UTC()}
		image := sql.NullString{String: row.ImageBase64, Valid: row.ImageBase64 != ""}
		if err := writeTurn(ctx, tx, turn, row.Role, sql.NullString{}, row.Content, image); err != nil {
			return Session{}, fmt.Errorf("legacy row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit import: %w", err)
	}
	return sess, nil
}

func scanTurns(rows *sql.Rows) ([]chat.Turn, error) {
	var turns []chat.Turn
	for rows.Next() {
		var (
			t         chat.Turn
			role      string
			parts     sql.NullString
			content   string
			image     sql.NullString
			embedding []byte
			created   string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &parts, &content, &image, &embedding, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = parseTime(created)
		if len(embedding) > 0 {
			t.Embedding = decodeEmbedding(embedding)
		}

		if parts.Valid && strings.TrimSpace(parts.String) != "" && parts.String != "null" {
			if err := json.Unmarshal([]byte(parts.String), &t.Parts); err != nil {
				return nil, fmt.Errorf("decode parts of turn %s: %w", t.ID, err)
			}
			t.Role = chat.Role(role)
		} else {
			t.Role, t.Parts = NormalizeLegacy(role, content, image.String)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
