package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"deskagent/internal/storage"
)

// ListScripts GET /scripts
func (h *Handler) ListScripts(c echo.Context) error {
	scripts, err := h.store.ListScripts(c.Request().Context(), userID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if scripts == nil {
		scripts = []storage.Script{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "scripts": scripts})
}

// GetScriptContent GET /scripts/:name/content
func (h *Handler) GetScriptContent(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	sc, err := h.store.FindScript(c.Request().Context(), userID(c), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("script not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"name":    sc.Name,
		"content": sc.Code,
	})
}

type memoryRequest struct {
	Content string `json:"content"`
}

// AddMemory POST /memories
func (h *Handler) AddMemory(c echo.Context) error {
	var body memoryRequest
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("content is required"))
	}
	m, err := h.store.AddMemory(c.Request().Context(), userID(c), strings.TrimSpace(body.Content))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusCreated, m)
}

// ListMemories GET /memories
func (h *Handler) ListMemories(c echo.Context) error {
	memories, err := h.store.ListMemories(c.Request().Context(), userID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if memories == nil {
		memories = []storage.Memory{}
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": memories})
}
