// Package httpapi exposes the generation engine and the stores over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"deskagent/internal/chat"
	"deskagent/internal/orchestrator"
	"deskagent/internal/storage"
	"deskagent/internal/stream"
)

// Generator 生成引擎的 HTTP 视角
// Generator is the part of the engine the HTTP layer drives
type Generator interface {
	Validate(req orchestrator.Request) ([]chat.Part, error)
	Submit(ctx context.Context, req orchestrator.Request, sink stream.Sink) error
	Cancel(sessionID string) bool
}

// Store is the read side of persistence plus memory writes.
type Store interface {
	FindSession(ctx context.Context, userID, id string) (storage.Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]storage.Session, int, error)
	PageTurns(ctx context.Context, sessionID string, limit, offset int) ([]chat.Turn, int, error)
	FindScript(ctx context.Context, userID, name string) (storage.Script, error)
	ListScripts(ctx context.Context, userID string) ([]storage.Script, error)
	AddMemory(ctx context.Context, userID, content string) (storage.Memory, error)
	ListMemories(ctx context.Context, userID string) ([]storage.Memory, error)
}

type Options struct {
	CORSOrigins []string
	Version     string
}

// Handler handles HTTP requests.
type Handler struct {
	engine  Generator
	store   Store
	logger  *zap.Logger
	version string
}

func NewHandler(engine Generator, store Store, logger *zap.Logger, version string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, store: store, logger: logger, version: version}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("", RequireUser())
	api.POST("/agent/generate", h.Generate)
	api.POST("/agent/cancel", h.Cancel)

	api.GET("/session", h.ListSessions)
	api.GET("/session/:id/conversations", h.GetConversations)

	api.GET("/scripts", h.ListScripts)
	api.GET("/scripts/:name/content", h.GetScriptContent)

	api.GET("/memories", h.ListMemories)
	api.POST("/memories", h.AddMemory)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Server wraps the echo instance with its lifecycle.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
}

func NewServer(h *Handler, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(h.logger))
	e.Use(middleware.BodyLimit("16M"))
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowHeaders: []string{echo.HeaderContentType, HeaderUserID},
		}))
	}
	h.RegisterRoutes(e)
	return &Server{echo: e, logger: h.logger}
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run 启动服务并在 ctx 结束后优雅关闭
// Run serves on addr until ctx is done, then shuts down gracefully, letting
// in-flight generations finish within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
