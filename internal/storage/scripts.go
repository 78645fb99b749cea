package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// --- Script Operations ---

// UpsertScript 按 (user_id, name) 插入或覆盖 description/code
// UpsertScript inserts or overwrites description and code keyed by (user_id, name)
func (s *SQLiteStore) UpsertScript(ctx context.Context, sc Script) (Script, error) {
	sc.Name = strings.TrimSpace(sc.Name)
	if sc.UserID == "" || sc.Name == "" {
		return Script{}, fmt.Errorf("script user id and name are required")
	}
	now := formatTime(s.nowUTC())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO scripts (id, user_id, name, description, code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			description=excluded.description,
			code=excluded.code,
			updated_at=excluded.updated_at`,
		newScriptID(), sc.UserID, sc.Name, sc.Description, sc.Code, now, now,
	); err != nil {
		return Script{}, fmt.Errorf("upsert script: %w", err)
	}
	return s.FindScript(ctx, sc.UserID, sc.Name)
}

func (s *SQLiteStore) FindScript(ctx context.Context, userID, name string) (Script, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, code, created_at, updated_at
		FROM scripts WHERE user_id=? AND name=?`, userID, strings.TrimSpace(name))
	sc, err := scanScript(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Script{}, fmt.Errorf("script %s: %w", name, ErrNotFound)
		}
		return Script{}, fmt.Errorf("load script: %w", err)
	}
	return sc, nil
}

func (s *SQLiteStore) ListScripts(ctx context.Context, userID string) ([]Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, code, created_at, updated_at
		FROM scripts WHERE user_id=? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		scripts = append(scripts, sc)
	}
	return scripts, rows.Err()
}

func scanScript(row rowScanner) (Script, error) {
	var sc Script
	var created, updated string
	if err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Description, &sc.Code, &created, &updated); err != nil {
		return Script{}, err
	}
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(updated)
	return sc, nil
}

// --- Memory Operations ---

func (s *SQLiteStore) AddMemory(ctx context.Context, userID, content string) (Memory, error) {
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return Memory{}, fmt.Errorf("memory user id and content are required")
	}
	m := Memory{ID: newMemoryID(), UserID: userID, Content: content, CreatedAt: s.nowUTC()}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, formatTime(m.CreatedAt),
	); err != nil {
		return Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, userID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, created_at
		FROM memories WHERE user_id=? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
