package provider

import (
	"context"
	"errors"

	"deskagent/internal/apperr"
	"deskagent/internal/chat"
)

// Request 封装一次模型请求
// Request wraps a single model call
type Request struct {
	Messages        []chat.Message
	MaxOutputTokens int
	// JSONMode 要求模型只输出一个 JSON 对象
	// JSONMode constrains the response to a single JSON object
	JSONMode bool
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk func(chunk string)
}

func (cb *StreamCallbacks) emit(chunk string) {
	if cb != nil && cb.OnTextChunk != nil && chunk != "" {
		cb.OnTextChunk(chunk)
	}
}

// Provider 模型提供方接口；每个进程只启用一个
// Provider is the model backend; exactly one is active per process
type Provider interface {
	// Stream 发送请求，逐段回调文本，返回完整文本
	// Stream sends the request, reports each text fragment and returns the full text
	Stream(ctx context.Context, req Request, cb *StreamCallbacks) (string, error)

	// Name 返回 provider 名称 / Name returns the provider name
	Name() string

	// CurrentModel 返回当前模型 / CurrentModel returns the active model
	CurrentModel() string
}

// classify 将底层错误包装为 ProviderError；取消类错误原样返回
// classify wraps a backend failure in *apperr.ProviderError. Context
// cancellation and deadlines pass through untouched.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *apperr.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &apperr.ProviderError{Provider: name, Quota: apperr.IsQuotaMessage(err.Error()), Err: err}
}
