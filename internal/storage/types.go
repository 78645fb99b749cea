package storage

import "time"

// Session 会话元数据，归属单个用户
// Session holds session metadata owned by one user
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Script 用户保存的具名脚本
// Script is a named, user-owned code slot
type Script struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Memory is a user-scoped note surfaced in every system prompt.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// LegacyRow is one flat turn from the JSON session files written before
// turns carried structured parts.
type LegacyRow struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ImageBase64 string    `json:"imageBase64,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
