package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deskagent/internal/chat"
)

// --- OpenAI-compatible streaming (compat) ---

type compatChatRequest struct {
	Model          string          `json:"model"`
	Messages       []compatMessage `json:"messages"`
	Stream         bool            `json:"stream"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *compatFormat   `json:"response_format,omitempty"`
}

type compatFormat struct {
	Type string `json:"type"`
}

// compatMessage 的 content 为字符串或多模态片段数组
// compatMessage carries either a string or an array of typed parts
type compatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func toCompatMessages(messages []chat.Message) []compatMessage {
	out := make([]compatMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.MultiContent) > 0 {
			out = append(out, compatMessage{Role: m.Role, Content: m.MultiContent})
			continue
		}
		out = append(out, compatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *OpenAIProvider) streamCompat(ctx context.Context, model string, req Request, cb *StreamCallbacks) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(p.cfg.BaseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("base_url is empty")
	}
	payload := compatChatRequest{
		Model:     model,
		Messages:  toCompatMessages(req.Messages),
		Stream:    true,
		MaxTokens: req.MaxOutputTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &compatFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(p.cfg.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(p.cfg.APIKey))
	}

	client := p.httpClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.Contains(contentType, "text/event-stream") {
		return parseStreamResponse(resp.Body, cb)
	}
	return parseNonStreamResponse(resp.Body, cb)
}

func parseNonStreamResponse(body io.Reader, cb *StreamCallbacks) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var raw openAIResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	content, err := parseContent(raw.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	cb.emit(content)
	return content, nil
}

func parseStreamResponse(body io.Reader, cb *StreamCallbacks) (string, error) {
	reader := bufio.NewReader(body)
	var (
		contentBuilder strings.Builder
		dataLines      []string
	)

	processEvent := func(payload string) error {
		payload = strings.TrimSpace(payload)
		if payload == "" || payload == "[DONE]" {
			return nil
		}

		var event openAIStreamEvent
		data := []byte(payload)
		if err := json.Unmarshal(data, &event); err != nil {
			// 流式 SSE 中某行可能被截断，缺根对象闭合 }，补全后重试
			errStr := err.Error()
			if len(data) > 0 &&
				(strings.Contains(errStr, "unexpected end of JSON input") ||
					strings.Contains(errStr, "after object key:value pair")) {
				data = append(data, '}')
				if retryErr := json.Unmarshal(data, &event); retryErr != nil {
					return fmt.Errorf("parse stream event: %w (retry: %v)", err, retryErr)
				}
			} else {
				return fmt.Errorf("parse stream event: %w", err)
			}
		}
		if event.Error != nil && event.Error.Message != "" {
			return fmt.Errorf("stream error: %s", event.Error.Message)
		}

		for _, choice := range event.Choices {
			text, err := parseDeltaContent(choice.Delta.Content)
			if err != nil {
				return err
			}
			if text != "" {
				contentBuilder.WriteString(text)
				cb.emit(text)
			}
		}
		return nil
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read stream response: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				if err := processEvent(strings.Join(dataLines, "\n")); err != nil {
					return "", err
				}
				dataLines = dataLines[:0]
			}
		} else if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err == io.EOF {
			break
		}
	}
	if len(dataLines) > 0 {
		if err := processEvent(strings.Join(dataLines, "\n")); err != nil {
			return "", err
		}
	}
	return contentBuilder.String(), nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content json.RawMessage `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func parseDeltaContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var parts []struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		OutputText string `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 {
		var builder strings.Builder
		for _, part := range parts {
			text := part.Text
			if text == "" {
				text = part.OutputText
			}
			if text == "" {
				continue
			}
			kind := strings.ToLower(strings.TrimSpace(part.Type))
			if kind != "" && kind != "text" && kind != "output_text" {
				continue
			}
			builder.WriteString(text)
		}
		return builder.String(), nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("parse stream delta content: %w", err)
	}
	return extractText(generic), nil
}

func parseContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	// Some providers may return content as typed parts instead of a plain string.
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 {
		var builder strings.Builder
		for _, part := range parts {
			if part.Text == "" {
				continue
			}
			kind := strings.ToLower(strings.TrimSpace(part.Type))
			if kind != "" && kind != "text" && kind != "output_text" {
				continue
			}
			builder.WriteString(part.Text)
		}
		if builder.Len() > 0 {
			return builder.String(), nil
		}
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("parse response content: %w", err)
	}
	if extracted := extractText(generic); extracted != "" {
		return extracted, nil
	}
	compact, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("compact response content: %w", err)
	}
	return string(compact), nil
}

func extractText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var builder strings.Builder
		for _, item := range val {
			builder.WriteString(extractText(item))
		}
		return builder.String()
	case map[string]any:
		if kind, ok := val["type"].(string); ok {
			normalized := strings.ToLower(strings.TrimSpace(kind))
			if normalized != "" && normalized != "text" && normalized != "output_text" {
				if nested, ok := val["content"]; ok {
					return extractText(nested)
				}
				return ""
			}
		}
		if text, ok := val["text"].(string); ok && text != "" {
			return text
		}
		if outputText, ok := val["output_text"].(string); ok && outputText != "" {
			return outputText
		}
		if content, ok := val["content"]; ok {
			if text := extractText(content); text != "" {
				return text
			}
		}
		if value, ok := val["value"]; ok {
			if text := extractText(value); text != "" {
				return text
			}
		}
	}
	return ""
}
