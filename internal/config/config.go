package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ShutdownTimeoutMS int      `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
	CORSOrigins       []string `json:"cors_origins" yaml:"cors_origins"`
}

type ProviderConfig struct {
	// Kind 选择模型后端：openai（含兼容服务）或 gemini
	// Kind selects the model backend: openai (or compatible) or gemini
	Kind            string `json:"kind" yaml:"kind"`
	BaseURL         string `json:"base_url" yaml:"base_url"`
	Model           string `json:"model" yaml:"model"`
	APIKey          string `json:"api_key" yaml:"api_key"`
	TimeoutMS       int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries      int    `json:"max_retries" yaml:"max_retries"`
	MaxOutputTokens int    `json:"max_output_tokens" yaml:"max_output_tokens"`
}

type EmbeddingConfig struct {
	// Kind: openai, gemini or none. none disables recall entirely.
	Kind      string `json:"kind" yaml:"kind"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	RecallK   int    `json:"recall_k" yaml:"recall_k"`
	Workers   int    `json:"workers" yaml:"workers"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	DBPath  string `json:"db_path" yaml:"db_path"`
}

type RuntimeConfig struct {
	WorkspaceRoot     string `json:"workspace_root" yaml:"workspace_root"`
	ScriptsDir        string `json:"scripts_dir" yaml:"scripts_dir"`
	HistoryTurns      int    `json:"history_turns" yaml:"history_turns"`
	ContextTokenLimit int    `json:"context_token_limit" yaml:"context_token_limit"`
}

type DispatchConfig struct {
	// EditFileMode 决定 editFile 在服务端执行（local）还是交给客户端（remote）
	// EditFileMode decides whether editFile runs on the server (local) or on the client (remote)
	EditFileMode string `json:"edit_file_mode" yaml:"edit_file_mode"`
}

type ClientConfig struct {
	ServerURL        string           `json:"server_url" yaml:"server_url"`
	UserID           string           `json:"user_id" yaml:"user_id"`
	AutoApprove      bool             `json:"auto_approve" yaml:"auto_approve"`
	CommandTimeoutMS int              `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	OutputLimitBytes int              `json:"output_limit_bytes" yaml:"output_limit_bytes"`
	RenderMarkdown   bool             `json:"render_markdown" yaml:"render_markdown"`
	Permission       PermissionConfig `json:"permission" yaml:"permission"`
}

// PermissionConfig 客户端动作权限：allow 直接执行，ask 询问，deny 拒绝
// PermissionConfig decides remote actions before the user is asked:
// allow runs them, ask prompts, deny refuses.
type PermissionConfig struct {
	Default string `json:"default" yaml:"default"`
	// Actions maps an action name (runCommand, readFile, ...) to a decision.
	Actions map[string]string `json:"actions" yaml:"actions"`
	// Commands maps command-line glob patterns ("ls *", "git status") to a
	// decision; the longest matching pattern wins.
	Commands         map[string]string `json:"commands" yaml:"commands"`
	CommandAllowlist []string          `json:"command_allowlist" yaml:"command_allowlist"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Client    ClientConfig    `json:"client" yaml:"client"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type fileClientConfig struct {
	ServerURL        *string           `json:"server_url" yaml:"server_url"`
	UserID           *string           `json:"user_id" yaml:"user_id"`
	AutoApprove      *bool             `json:"auto_approve" yaml:"auto_approve"`
	CommandTimeoutMS *int              `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	OutputLimitBytes *int              `json:"output_limit_bytes" yaml:"output_limit_bytes"`
	RenderMarkdown   *bool             `json:"render_markdown" yaml:"render_markdown"`
	Permission       *PermissionConfig `json:"permission" yaml:"permission"`
}

type fileConfig struct {
	Server    *ServerConfig     `json:"server" yaml:"server"`
	Provider  *ProviderConfig   `json:"provider" yaml:"provider"`
	Embedding *EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Storage   *StorageConfig    `json:"storage" yaml:"storage"`
	Runtime   *RuntimeConfig    `json:"runtime" yaml:"runtime"`
	Dispatch  *DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Client    *fileClientConfig `json:"client" yaml:"client"`
	Log       *LogConfig        `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":3001",
			ShutdownTimeoutMS: 10000,
		},
		Provider: ProviderConfig{
			Kind:            ProviderGemini,
			Model:           "gemini-2.5-flash",
			TimeoutMS:       120000,
			MaxRetries:      3,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		Embedding: EmbeddingConfig{
			Kind:      ProviderGemini,
			Model:     "text-embedding-004",
			RecallK:   DefaultRecallK,
			Workers:   4,
			TimeoutMS: 15000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.deskagent",
		},
		Runtime: RuntimeConfig{
			HistoryTurns:      DefaultHistoryTurns,
			ContextTokenLimit: DefaultContextTokenLimit,
		},
		Dispatch: DispatchConfig{
			EditFileMode: EditFileLocal,
		},
		Client: ClientConfig{
			ServerURL:        "http://localhost:3001",
			CommandTimeoutMS: 120000,
			OutputLimitBytes: 1 << 20,
			RenderMarkdown:   true,
			Permission: PermissionConfig{
				Default: PermissionAsk,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 依次合并：默认值 → 全局配置 → 显式/环境变量路径或项目配置 → 环境变量
// Load merges defaults, global config, explicit/env path or project config, then environment
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("DESKAGENT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".config", "deskagent")
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.jsonc"),
		filepath.Join(dir, "config.yaml"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"deskagent.json",
		"deskagent.jsonc",
		"deskagent.yaml",
		".deskagent/config.json",
		".deskagent/config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Server != nil {
		cfg.Server = mergeServer(cfg.Server, *fc.Server)
	}
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Embedding != nil {
		cfg.Embedding = mergeEmbedding(cfg.Embedding, *fc.Embedding)
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
		if strings.TrimSpace(fc.Storage.DBPath) != "" {
			cfg.Storage.DBPath = fc.Storage.DBPath
		}
	}
	if fc.Runtime != nil {
		cfg.Runtime = mergeRuntime(cfg.Runtime, *fc.Runtime)
	}
	if fc.Dispatch != nil && strings.TrimSpace(fc.Dispatch.EditFileMode) != "" {
		cfg.Dispatch.EditFileMode = fc.Dispatch.EditFileMode
	}
	if fc.Client != nil {
		if fc.Client.ServerURL != nil {
			cfg.Client.ServerURL = *fc.Client.ServerURL
		}
		if fc.Client.UserID != nil {
			cfg.Client.UserID = *fc.Client.UserID
		}
		if fc.Client.AutoApprove != nil {
			cfg.Client.AutoApprove = *fc.Client.AutoApprove
		}
		if fc.Client.CommandTimeoutMS != nil {
			cfg.Client.CommandTimeoutMS = *fc.Client.CommandTimeoutMS
		}
		if fc.Client.OutputLimitBytes != nil {
			cfg.Client.OutputLimitBytes = *fc.Client.OutputLimitBytes
		}
		if fc.Client.RenderMarkdown != nil {
			cfg.Client.RenderMarkdown = *fc.Client.RenderMarkdown
		}
		if fc.Client.Permission != nil {
			cfg.Client.Permission = mergePermission(cfg.Client.Permission, *fc.Client.Permission)
		}
	}
	if fc.Log != nil {
		if strings.TrimSpace(fc.Log.Level) != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if strings.TrimSpace(fc.Log.Format) != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
}

func mergeServer(base ServerConfig, override ServerConfig) ServerConfig {
	if strings.TrimSpace(override.Addr) != "" {
		base.Addr = override.Addr
	}
	if override.ShutdownTimeoutMS > 0 {
		base.ShutdownTimeoutMS = override.ShutdownTimeoutMS
	}
	if len(override.CORSOrigins) > 0 {
		base.CORSOrigins = append([]string(nil), override.CORSOrigins...)
	}
	return base
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.Kind) != "" {
		base.Kind = override.Kind
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.MaxOutputTokens > 0 {
		base.MaxOutputTokens = override.MaxOutputTokens
	}
	return base
}

func mergeEmbedding(base EmbeddingConfig, override EmbeddingConfig) EmbeddingConfig {
	if strings.TrimSpace(override.Kind) != "" {
		base.Kind = override.Kind
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.RecallK > 0 {
		base.RecallK = override.RecallK
	}
	if override.Workers > 0 {
		base.Workers = override.Workers
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergePermission(base PermissionConfig, override PermissionConfig) PermissionConfig {
	if strings.TrimSpace(override.Default) != "" {
		base.Default = override.Default
	}
	base.Actions = mergeRules(base.Actions, override.Actions)
	base.Commands = mergeRules(base.Commands, override.Commands)
	if len(override.CommandAllowlist) > 0 {
		base.CommandAllowlist = append(append([]string(nil), base.CommandAllowlist...), override.CommandAllowlist...)
	}
	return base
}

func mergeRules(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func mergeRuntime(base RuntimeConfig, override RuntimeConfig) RuntimeConfig {
	if strings.TrimSpace(override.WorkspaceRoot) != "" {
		base.WorkspaceRoot = override.WorkspaceRoot
	}
	if strings.TrimSpace(override.ScriptsDir) != "" {
		base.ScriptsDir = override.ScriptsDir
	}
	if override.HistoryTurns > 0 {
		base.HistoryTurns = override.HistoryTurns
	}
	if override.ContextTokenLimit > 0 {
		base.ContextTokenLimit = override.ContextTokenLimit
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	cfg.Provider.Kind = strings.ToLower(strings.TrimSpace(cfg.Provider.Kind))
	switch cfg.Provider.Kind {
	case ProviderOpenAI, ProviderGemini:
	case "":
		cfg.Provider.Kind = def.Provider.Kind
	default:
		return fmt.Errorf("unsupported provider.kind %q", cfg.Provider.Kind)
	}
	if cfg.Provider.Kind == ProviderOpenAI && strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		cfg.Provider.BaseURL = DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}
	if cfg.Provider.MaxOutputTokens <= 0 {
		cfg.Provider.MaxOutputTokens = def.Provider.MaxOutputTokens
	}

	cfg.Embedding.Kind = strings.ToLower(strings.TrimSpace(cfg.Embedding.Kind))
	switch cfg.Embedding.Kind {
	case ProviderOpenAI, ProviderGemini, EmbeddingNone:
	case "":
		cfg.Embedding.Kind = EmbeddingNone
	default:
		return fmt.Errorf("unsupported embedding.kind %q", cfg.Embedding.Kind)
	}
	if cfg.Embedding.Kind == ProviderOpenAI && strings.TrimSpace(cfg.Embedding.BaseURL) == "" {
		cfg.Embedding.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Embedding.Kind == ProviderOpenAI && strings.TrimSpace(cfg.Embedding.Model) == def.Embedding.Model {
		cfg.Embedding.Model = DefaultOpenAIEmbeddingModel
	}
	if cfg.Embedding.RecallK <= 0 {
		cfg.Embedding.RecallK = def.Embedding.RecallK
	}
	if cfg.Embedding.Workers <= 0 {
		cfg.Embedding.Workers = def.Embedding.Workers
	}
	if cfg.Embedding.TimeoutMS <= 0 {
		cfg.Embedding.TimeoutMS = def.Embedding.TimeoutMS
	}

	if cfg.Runtime.HistoryTurns <= 0 {
		cfg.Runtime.HistoryTurns = def.Runtime.HistoryTurns
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Dispatch.EditFileMode)) {
	case EditFileRemote:
		cfg.Dispatch.EditFileMode = EditFileRemote
	case EditFileLocal, "":
		cfg.Dispatch.EditFileMode = EditFileLocal
	default:
		return fmt.Errorf("unsupported dispatch.edit_file_mode %q", cfg.Dispatch.EditFileMode)
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.ShutdownTimeoutMS <= 0 {
		cfg.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}
	if cfg.Client.CommandTimeoutMS <= 0 {
		cfg.Client.CommandTimeoutMS = def.Client.CommandTimeoutMS
	}
	if cfg.Client.OutputLimitBytes <= 0 {
		cfg.Client.OutputLimitBytes = def.Client.OutputLimitBytes
	}
	cfg.Client.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.Client.ServerURL), "/")
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = def.Client.ServerURL
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Client.Permission.Default)); d {
	case PermissionAllow, PermissionAsk, PermissionDeny:
		cfg.Client.Permission.Default = d
	case "":
		cfg.Client.Permission.Default = PermissionAsk
	default:
		return fmt.Errorf("unsupported client.permission.default %q", cfg.Client.Permission.Default)
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = def.Log.Level
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = def.Log.Format
	}

	baseDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if baseDir == "" {
		if baseDir, err = expandPath(def.Storage.BaseDir); err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = baseDir
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		cfg.Storage.DBPath = filepath.Join(baseDir, "deskagent.db")
	} else if cfg.Storage.DBPath, err = expandPath(cfg.Storage.DBPath); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Runtime.WorkspaceRoot) == "" {
		cfg.Runtime.WorkspaceRoot = filepath.Join(baseDir, "workspace")
	}
	if cfg.Runtime.WorkspaceRoot, err = expandPath(cfg.Runtime.WorkspaceRoot); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Runtime.ScriptsDir) == "" {
		cfg.Runtime.ScriptsDir = "scripts"
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_PROVIDER")); v != "" {
		cfg.Provider.Kind = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_WORKSPACE_ROOT")); v != "" {
		cfg.Runtime.WorkspaceRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_HISTORY_TURNS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DESKAGENT_HISTORY_TURNS: %q", v)
		}
		cfg.Runtime.HistoryTurns = n
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_SERVER_URL")); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_USER_ID")); v != "" {
		cfg.Client.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("DESKAGENT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Provider.APIKey = fallbackKey(cfg.Provider.APIKey, cfg.Provider.Kind)
	cfg.Embedding.APIKey = fallbackKey(cfg.Embedding.APIKey, cfg.Embedding.Kind)
	return cfg, nil
}

func fallbackKey(key, kind string) string {
	if strings.TrimSpace(key) != "" {
		return key
	}
	switch kind {
	case ProviderOpenAI:
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case ProviderGemini:
		if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
			return v
		}
		return strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	return ""
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}
