package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"deskagent/internal/apperr"
	"deskagent/internal/chat"
)

// OpenAIProvider 使用 go-openai SDK 的 Provider 实现
// OpenAIProvider implements Provider for OpenAI-compatible endpoints
type OpenAIProvider struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	cfg        OpenAIConfig
	mu         sync.RWMutex
}

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	client := openai.NewClientWithConfig(config)
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &OpenAIProvider{
		client:     client,
		httpClient: httpClient,
		model:      cfg.Model,
		cfg:        cfg,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

// Stream 带重试的流式调用；一旦已有片段发出便不再重试，避免重复输出
// Stream retries with backoff, but never after a fragment has been emitted
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, cb *StreamCallbacks) (string, error) {
	model := p.CurrentModel()
	emitted := false
	tracked := &StreamCallbacks{OnTextChunk: func(chunk string) {
		emitted = true
		cb.emit(chunk)
	}}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := p.streamCompat(ctx, model, req, tracked)
		// 兼容实现失败且尚未输出时，回退到 SDK 实现
		// Fallback to the SDK stream if the compat stream failed before any output
		if err != nil && !emitted && ctx.Err() == nil {
			sdkText, sdkErr := p.streamSDK(ctx, buildSDKRequest(model, req), tracked)
			if sdkErr == nil {
				return sdkText, nil
			}
		}
		if err == nil {
			return text, nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if emitted || apperr.IsQuotaMessage(err.Error()) {
			break
		}
	}
	return "", classify(p.Name(), lastErr)
}

func buildSDKRequest(model string, req Request) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	}
	if req.MaxOutputTokens > 0 {
		sdkReq.MaxTokens = req.MaxOutputTokens
	}
	if req.JSONMode {
		sdkReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return sdkReq
}

func (p *OpenAIProvider) streamSDK(ctx context.Context, req openai.ChatCompletionRequest, cb *StreamCallbacks) (string, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("recv stream: %w", err)
		}
		for _, choice := range resp.Choices {
			// 文本内容 / Text content
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				cb.emit(choice.Delta.Content)
			}
		}
	}
	return content.String(), nil
}

// --- Message Conversion ---

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		if len(m.MultiContent) == 0 {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}
		msg.MultiContent = make([]openai.ChatMessagePart, 0, len(m.MultiContent))
		for _, part := range m.MultiContent {
			switch v := part.(type) {
			case chat.TextContent:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: v.Text,
				})
			case chat.ImageContent:
				detail := openai.ImageURLDetailAuto
				if v.ImageURL.Detail != "" {
					detail = openai.ImageURLDetail(v.ImageURL.Detail)
				}
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: v.ImageURL.URL, Detail: detail},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}
