package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"deskagent/internal/chat"
)

// GeminiConfig Gemini provider 配置
// GeminiConfig configures the Gemini provider
type GeminiConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	TimeoutMS int
}

// GeminiProvider 使用 google.golang.org/genai 的流式实现
// GeminiProvider streams generations through the Gemini API
type GeminiProvider struct {
	client *genai.Client
	model  string
	cfg    GeminiConfig
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions.BaseURL = base
	}
	if cfg.TimeoutMS > 0 {
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		cc.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model, cfg: cfg}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) CurrentModel() string {
	return p.model
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request, cb *StreamCallbacks) (string, error) {
	system, contents := toGenAIContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	var content strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", classify(p.Name(), err)
		}
		if resp == nil {
			continue
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		content.WriteString(text)
		cb.emit(text)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return content.String(), nil
}

// toGenAIContents 系统消息合并为 SystemInstruction；assistant 映射为 model 角色
// toGenAIContents folds system messages into one instruction and maps the
// remaining messages onto user/model contents.
func toGenAIContents(messages []chat.Message) (string, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		if m.Role == chat.MessageSystem {
			if t := strings.TrimSpace(m.Text()); t != "" {
				system = append(system, t)
			}
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == chat.MessageAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if len(m.MultiContent) == 0 {
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
		} else {
			for _, part := range m.MultiContent {
				switch v := part.(type) {
				case chat.TextContent:
					if v.Text != "" {
						parts = append(parts, genai.NewPartFromText(v.Text))
					}
				case chat.ImageContent:
					if len(v.Data) > 0 {
						parts = append(parts, genai.NewPartFromBytes(v.Data, v.MIMEType))
					}
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return strings.Join(system, "\n\n"), contents
}
