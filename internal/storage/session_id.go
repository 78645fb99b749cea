package storage

import "github.com/google/uuid"

// NewSessionID 生成新的会话 ID / Generates a new session ID
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// NewTurnID 生成新的轮次 ID / Generates a new turn ID
func NewTurnID() string {
	return "turn_" + uuid.NewString()
}

func newScriptID() string {
	return "scr_" + uuid.NewString()
}

func newMemoryID() string {
	return "mem_" + uuid.NewString()
}
