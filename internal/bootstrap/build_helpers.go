package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"deskagent/internal/config"
	"deskagent/internal/provider"
	"deskagent/internal/recall"
	"deskagent/internal/security"
	"deskagent/internal/storage"
	"deskagent/internal/tools"
)

func newProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case config.ProviderGemini:
		p, err := provider.NewGeminiProvider(ctx, provider.GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			TimeoutMS: cfg.TimeoutMS,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderOpenAI:
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			TimeoutMS:  cfg.TimeoutMS,
			MaxRetries: cfg.MaxRetries,
		}), nil
	}
	return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
}

// newEmbedder returns a nil Embedder when recall is switched off.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (recall.Embedder, error) {
	switch cfg.Kind {
	case config.ProviderOpenAI:
		return recall.NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case config.ProviderGemini:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("gemini embedding API key is required")
		}
		e, err := recall.NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, nil
}

// buildToolRegistry 注册服务端本地执行器；编辑文件写入每个用户独立的工作区
// buildToolRegistry registers the server-side executors. Edits land in a
// per-user directory under the workspace root.
func buildToolRegistry(cfg config.Config, store storage.Store) (*tools.Registry, error) {
	if err := os.MkdirAll(cfg.Runtime.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	ws, err := security.NewWorkspace(cfg.Runtime.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}
	return tools.NewRegistry(
		tools.NewEditFileTool(ws),
		tools.NewCreateScriptTool(store),
		tools.NewListScriptsTool(store),
		tools.NewRunScriptTool(store, cfg.Runtime.ScriptsDir),
	), nil
}
