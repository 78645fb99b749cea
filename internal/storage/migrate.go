package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// legacySession 旧版导出的会话文件（每个会话一个 JSON 文件）
// legacySession is one exported session file from the flat-column era
type legacySession struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	CreatedAt     time.Time   `json:"createdAt"`
	Conversations []LegacyRow `json:"conversations"`
}

// MigrateLegacyJSON 将旧版 JSON 会话文件导入到 SQLite，已存在的会话跳过
// MigrateLegacyJSON imports legacy JSON session exports from dir into store
// for userID. Each session is imported in one transaction, so a file that
// fails halfway is retried in full on the next run. Sessions already present
// are skipped.
func MigrateLegacyJSON(ctx context.Context, dir, userID string, store *SQLiteStore, logger *zap.Logger) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read legacy dir: %w", err)
	}

	migrated := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var ls legacySession
		if err := readJSON(path, &ls); err != nil {
			logger.Warn("skip legacy session file", zap.String("path", path), zap.Error(err))
			continue
		}
		if ls.ID == "" {
			ls.ID = strings.TrimSuffix(e.Name(), ".json")
		}

		// 检查是否已存在 / Check if already migrated
		if _, err := store.FindSession(ctx, userID, ls.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return migrated, err
		}

		if err := importLegacySession(ctx, store, userID, ls); err != nil {
			logger.Warn("migrate legacy session failed", zap.String("session_id", ls.ID), zap.Error(err))
			continue
		}
		migrated++
	}
	return migrated, nil
}

func importLegacySession(ctx context.Context, store *SQLiteStore, userID string, ls legacySession) error {
	rows := append([]LegacyRow(nil), ls.Conversations...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	created := ls.CreatedAt
	if created.IsZero() && len(rows) > 0 {
		created = rows[0].CreatedAt
	}
	title := ls.Title
	if title == "" && len(rows) > 0 {
		title = TitleFrom(rows[0].Content)
	}
	_, err := store.ImportLegacySession(ctx, Session{ID: ls.ID, UserID: userID, Title: title, CreatedAt: created}, rows)
	return err
}

// TitleFrom 取首条消息的前 30 个字符作为标题
// TitleFrom derives a session title from the first 30 runes of a message
func TitleFrom(message string) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) > 30 {
		r = r[:30]
	}
	return string(r)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
