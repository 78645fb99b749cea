package config

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	EmbeddingNone  = "none"

	EditFileLocal  = "local"
	EditFileRemote = "remote"

	PermissionAllow = "allow"
	PermissionAsk   = "ask"
	PermissionDeny  = "deny"

	DefaultOpenAIBaseURL        = "https://api.openai.com/v1"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

	DefaultHistoryTurns      = 20
	DefaultContextTokenLimit = 24000
	DefaultMaxOutputTokens   = 8192
	DefaultRecallK           = 3
)
