package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deskagent/internal/config"
	"deskagent/internal/contextmgr"
	"deskagent/internal/dispatch"
	"deskagent/internal/httpapi"
	"deskagent/internal/orchestrator"
	"deskagent/internal/recall"
	"deskagent/internal/session"
	"deskagent/internal/storage"
)

// ServerResult 服务端构建结果；调用方负责 Close
// ServerResult holds the wired server. The caller must Close it.
type ServerResult struct {
	Engine          *orchestrator.Engine
	Store           *storage.SQLiteStore
	Recall          *recall.Service
	HTTP            *httpapi.Server
	Addr            string
	ShutdownTimeout time.Duration
	Model           string
}

// BuildServer 按依赖顺序初始化：存储 → 模型 → 召回 → 组装器 → 分发 → 引擎 → HTTP
// BuildServer initializes storage, provider, recall, assembler, dispatcher,
// engine and the HTTP surface in dependency order.
func BuildServer(ctx context.Context, cfg config.Config, logger *zap.Logger, version string) (*ServerResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	llm, err := newProvider(ctx, cfg.Provider)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init provider: %w", err)
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		// recall is optional; the engine works without it
		logger.Warn("embeddings disabled", zap.Error(err))
		embedder = nil
	}
	rec := recall.NewService(embedder, store, recall.Options{
		Workers: cfg.Embedding.Workers,
		Timeout: time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
	}, logger.Named("recall"))

	assembler := contextmgr.New(store, rec, contextmgr.NewTokenizerForModel(cfg.Provider.Model), contextmgr.Options{
		HistoryTurns: cfg.Runtime.HistoryTurns,
		RecallK:      cfg.Embedding.RecallK,
		TokenLimit:   cfg.Runtime.ContextTokenLimit,
	}, logger.Named("prompt"))

	registry, err := buildToolRegistry(cfg, store)
	if err != nil {
		_ = rec.Close(ctx)
		_ = store.Close()
		return nil, err
	}
	dispatcher := dispatch.New(registry, cfg.Dispatch.EditFileMode, logger.Named("dispatch"))

	engine := orchestrator.New(orchestrator.Deps{
		Provider:   llm,
		Resolver:   session.NewResolver(store, logger.Named("session")),
		Store:      store,
		Prompts:    assembler,
		Indexer:    rec,
		Dispatcher: dispatcher,
	}, orchestrator.Options{MaxOutputTokens: cfg.Provider.MaxOutputTokens}, logger.Named("engine"))

	handler := httpapi.NewHandler(engine, store, logger.Named("http"), version)
	srv := httpapi.NewServer(handler, httpapi.Options{CORSOrigins: cfg.Server.CORSOrigins, Version: version})

	logger.Info("server ready",
		zap.String("provider", llm.Name()),
		zap.String("model", llm.CurrentModel()),
		zap.Bool("recall", rec.Enabled()),
		zap.String("edit_file_mode", cfg.Dispatch.EditFileMode),
		zap.String("db", cfg.Storage.DBPath))

	return &ServerResult{
		Engine:          engine,
		Store:           store,
		Recall:          rec,
		HTTP:            srv,
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond,
		Model:           llm.CurrentModel(),
	}, nil
}

// Close 先停止后台索引，再关闭数据库
// Close drains background indexing before closing the database.
func (r *ServerResult) Close(ctx context.Context) error {
	return errors.Join(r.Recall.Close(ctx), r.Store.Close())
}

// Serve runs the HTTP server until ctx is done.
func (r *ServerResult) Serve(ctx context.Context) error {
	return r.HTTP.Run(ctx, r.Addr, r.ShutdownTimeout)
}
