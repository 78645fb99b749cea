package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"deskagent/internal/chat"
	"deskagent/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
	maxOffset       = math.MaxInt32
)

// pagination 解析 page（从 1 开始）与 limit
// pagination reads the 1-based page and limit query params
func pagination(c echo.Context) (limit, offset int) {
	limit = defaultPageSize
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = min(val, maxPageSize)
		}
	}
	page := 1
	if p := c.QueryParam("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}
	// 页码过大时返回空页，避免乘法溢出回到第一页
	// an out-of-range page yields an empty page instead of wrapping around
	if page-1 > maxOffset/limit {
		return limit, maxOffset
	}
	return limit, (page - 1) * limit
}

// ListSessions lists the caller's sessions, most recently active first.
// GET /session
func (h *Handler) ListSessions(c echo.Context) error {
	limit, offset := pagination(c)
	sessions, total, err := h.store.ListSessions(c.Request().Context(), userID(c), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if sessions == nil {
		sessions = []storage.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
	})
}

// GetConversations pages a session's turns, newest first.
// GET /session/:id/conversations
func (h *Handler) GetConversations(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")
	if _, err := h.store.FindSession(ctx, userID(c), sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("session not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	limit, offset := pagination(c)
	turns, total, err := h.store.PageTurns(ctx, sessionID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversations":      turns,
		"totalConversations": total,
	})
}
