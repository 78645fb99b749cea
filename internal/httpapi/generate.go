package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"deskagent/internal/apperr"
	"deskagent/internal/orchestrator"
	"deskagent/internal/storage"
	"deskagent/internal/stream"
)

type generateRequest struct {
	SessionID   string `json:"sessionId"`
	Message     string `json:"message"`
	Platform    string `json:"platform"`
	ImageBase64 string `json:"imageBase64"`
}

// Generate streams one turn as NDJSON.
// POST /agent/generate
func (h *Handler) Generate(c echo.Context) error {
	var body generateRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	req := orchestrator.Request{
		UserID:      userID(c),
		SessionID:   strings.TrimSpace(body.SessionID),
		Message:     body.Message,
		ImageBase64: body.ImageBase64,
		Platform:    body.Platform,
	}
	if _, err := h.engine.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, stream.ContentType)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	err := h.engine.Submit(c.Request().Context(), req, stream.NewEncoder(res))
	if err != nil && !errors.Is(err, apperr.ErrCancelledByUser) {
		// the status line is already out; the stream itself carries the outcome
		h.logger.Debug("generation ended with error", zap.String("user_id", req.UserID), zap.Error(err))
	}
	return nil
}

type cancelRequest struct {
	SessionID string `json:"sessionId"`
}

// Cancel stops the in-flight generation of one of the caller's sessions.
// POST /agent/cancel
func (h *Handler) Cancel(c echo.Context) error {
	var body cancelRequest
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.SessionID) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("sessionId is required"))
	}
	ctx := c.Request().Context()
	if _, err := h.store.FindSession(ctx, userID(c), body.SessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("session not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"cancelled": h.engine.Cancel(body.SessionID),
	})
}
