package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"deskagent/internal/apperr"
	"deskagent/internal/chat"
)

// Store 召回需要的存储子集 / the storage subset recall needs
type Store interface {
	AttachEmbedding(ctx context.Context, turnID string, vec []float32) error
	EmbeddedTurns(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Options tunes the background indexer.
type Options struct {
	Workers int
	Timeout time.Duration
}

// Service 嵌入、相似检索与后台索引
// Service embeds text, ranks stored turns by similarity and indexes new turns
// in the background. A nil embedder makes every call report unavailability.
type Service struct {
	embedder Embedder
	store    Store
	logger   *zap.Logger
	timeout  time.Duration

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewService(embedder Embedder, store Store, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		embedder: embedder,
		store:    store,
		logger:   logger,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enabled reports whether an embedder is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.embedder != nil
}

// Embed fails with apperr.ErrEmbeddingUnavailable for blank text or a provider error.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("no embedder configured: %w", apperr.ErrEmbeddingUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("blank text: %w", apperr.ErrEmbeddingUnavailable)
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty vector: %w", apperr.ErrEmbeddingUnavailable)
	}
	return vec, nil
}

// Similar returns up to k turns of the session ordered by descending cosine
// similarity to vec. Turns whose ids are listed in exclude are skipped.
func (s *Service) Similar(ctx context.Context, sessionID string, vec []float32, k int, exclude ...string) ([]chat.Turn, error) {
	turns, err := s.store.EmbeddedTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrRecallUnavailable, err)
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	candidates := make([]chat.Turn, 0, len(turns))
	corpus := make([][]float32, 0, len(turns))
	for _, t := range turns {
		if _, ok := skip[t.ID]; ok {
			continue
		}
		candidates = append(candidates, t)
		corpus = append(corpus, t.Embedding)
	}
	idx := topK(vec, corpus, k)
	out := make([]chat.Turn, 0, len(idx))
	for _, i := range idx {
		out = append(out, candidates[i])
	}
	return out, nil
}

// Recall 是建议性的：任何失败都返回空结果
// Recall is advisory: any failure yields an empty slice and a debug log.
func (s *Service) Recall(ctx context.Context, sessionID, text string, k int, exclude ...string) []chat.Turn {
	if !s.Enabled() || k <= 0 {
		return nil
	}
	vec, err := s.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("recall skipped", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	turns, err := s.Similar(ctx, sessionID, vec, k, exclude...)
	if err != nil {
		s.logger.Debug("recall failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return turns
}

// Index 在后台嵌入轮次文本并回写；失败仅记录日志
// Index embeds the turn's text in the background and attaches the vector.
// Failures are logged only.
func (s *Service) Index(turn chat.Turn) {
	if !s.Enabled() {
		return
	}
	text := indexText(turn)
	if strings.TrimSpace(text) == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		vec, err := s.Embed(ctx, text)
		if err == nil {
			err = s.store.AttachEmbedding(ctx, turn.ID, vec)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("index turn failed", zap.String("turn_id", turn.ID), zap.Error(err))
		}
	}()
}

// Close 等待挂起的索引完成；ctx 到期则取消剩余任务
// Close waits for pending indexing; when ctx expires the rest is cancelled.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func indexText(turn chat.Turn) string {
	if text := turn.Text(); text != "" {
		return text
	}
	var b strings.Builder
	for _, p := range turn.Parts {
		switch {
		case p.Call != nil:
			if content, ok := p.Call.Arguments["content"].(string); ok {
				b.WriteString(content)
			} else {
				b.WriteString(p.Call.Name)
			}
		case p.Result != nil:
			b.WriteString(p.Result.Output)
		}
	}
	return b.String()
}
