// Package orchestrator drives one user turn from submission to a terminal
// stream event: resolve, persist, prompt, stream, parse, dispatch.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deskagent/internal/action"
	"deskagent/internal/apperr"
	"deskagent/internal/chat"
	"deskagent/internal/contextmgr"
	"deskagent/internal/dispatch"
	"deskagent/internal/provider"
	"deskagent/internal/stream"
)

// errClientGone 客户端断开（非用户主动取消）
var errClientGone = errors.New("client stream closed")

const persistTimeout = 5 * time.Second

// Engine 生成引擎：每次提交产生恰好一个 final 或 error 事件
// Engine turns a submission into exactly one terminal final or error event.
type Engine struct {
	provider   provider.Provider
	resolver   SessionResolver
	store      TurnStore
	prompts    PromptBuilder
	indexer    Indexer
	dispatcher ActionDispatcher
	opts       Options
	logger     *zap.Logger

	locks  *sessionLocks
	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

type Deps struct {
	Provider   provider.Provider
	Resolver   SessionResolver
	Store      TurnStore
	Prompts    PromptBuilder
	Indexer    Indexer
	Dispatcher ActionDispatcher
}

func New(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider:   deps.Provider,
		resolver:   deps.Resolver,
		store:      deps.Store,
		prompts:    deps.Prompts,
		indexer:    deps.Indexer,
		dispatcher: deps.Dispatcher,
		opts:       opts,
		logger:     logger,
		locks:      newSessionLocks(),
		active:     make(map[string]context.CancelCauseFunc),
	}
}

// Validate 在写入任何内容之前检查请求
// Validate rejects a request before anything is written or streamed.
func (e *Engine) Validate(req Request) ([]chat.Part, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &apperr.ValidationError{Field: "userId", Reason: "is required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, &apperr.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	parts := []chat.Part{chat.TextPart(req.Message)}
	if strings.TrimSpace(req.ImageBase64) != "" {
		media, err := imagePart(req.ImageBase64)
		if err != nil {
			return nil, err
		}
		parts = append(parts, media)
	}
	return parts, nil
}

// Cancel 用户主动停止该会话正在进行的生成
// Cancel stops the session's in-flight generation on the user's behalf.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		cancel(apperr.ErrCancelledByUser)
	}
	return ok
}

// Submit 执行一轮对话，事件写入 sink。校验错误在发送任何事件之前返回。
// Submit runs one turn and writes its events to sink. A *apperr.ValidationError
// is returned before any event is sent; every later failure ends the stream
// with an error event.
func (e *Engine) Submit(ctx context.Context, req Request, sink stream.Sink) error {
	parts, err := e.Validate(req)
	if err != nil {
		return err
	}

	sessionID, isNew, err := e.resolver.Resolve(ctx, req.SessionID, req.UserID, req.Message)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("resolve session failed", zap.String("user_id", req.UserID), zap.Error(err))
		_ = sink.Send(stream.Error(msgInternal, ""))
		return fmt.Errorf("resolve session: %w", err)
	}

	release, err := e.locks.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	genCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e.setActive(sessionID, cancel)
	defer e.clearActive(sessionID)

	logger := e.logger.With(zap.String("session_id", sessionID), zap.String("user_id", req.UserID))
	t := &turnRun{engine: e, req: req, sessionID: sessionID, sink: sink, cancel: cancel, logger: logger}

	if isNew {
		if err := t.send(stream.SessionID(sessionID)); err != nil {
			return err
		}
	}

	userTurn, err := e.store.AppendTurn(genCtx, sessionID, chat.RoleUser, parts)
	if err != nil {
		if genCtx.Err() != nil {
			return t.cancelled(genCtx)
		}
		logger.Error("append user turn failed", zap.Error(err))
		_ = t.send(stream.Error(msgInternal, ""))
		return fmt.Errorf("append user turn: %w", err)
	}
	e.index(userTurn)

	messages, err := e.prompts.Build(genCtx, contextmgr.Request{
		SessionID:     sessionID,
		UserID:        req.UserID,
		Platform:      req.Platform,
		NewParts:      parts,
		CurrentTurnID: userTurn.ID,
	})
	if err != nil {
		if genCtx.Err() != nil {
			return t.cancelled(genCtx)
		}
		return t.fail(msgModelError, fmt.Errorf("build prompt: %w", err))
	}

	raw, err := e.provider.Stream(genCtx, provider.Request{
		Messages:        messages,
		MaxOutputTokens: e.opts.MaxOutputTokens,
		JSONMode:        true,
	}, &provider.StreamCallbacks{OnTextChunk: func(chunk string) {
		if genCtx.Err() != nil {
			return
		}
		_ = t.send(stream.TextChunk(chunk))
	}})
	if genCtx.Err() != nil {
		return t.cancelled(genCtx)
	}
	if err != nil {
		msg := msgModelError
		if apperr.IsQuota(err) {
			msg = msgQuota
		}
		return t.fail(msg, err)
	}

	parsed, err := action.Parse(raw)
	if err != nil {
		var pe *apperr.ParseError
		if errors.As(err, &pe) {
			return t.fail(msgModelError, err)
		}
		// schema violations become a visible reply, not a stream error
		logger.Warn("model action rejected", zap.Error(err))
		reply := dispatch.FailureReply(nil, err)
		if _, perr := t.persistModel(reply); perr != nil {
			return perr
		}
		return t.final(action.Encode(reply))
	}

	return t.complete(parsed)
}

func (e *Engine) index(turn chat.Turn) {
	if e.indexer != nil {
		e.indexer.Index(turn)
	}
}

func (e *Engine) setActive(sessionID string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.active[sessionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) clearActive(sessionID string) {
	e.mu.Lock()
	delete(e.active, sessionID)
	e.mu.Unlock()
}

// turnRun 单次提交的状态 / per-submission state
type turnRun struct {
	engine    *Engine
	req       Request
	sessionID string
	sink      stream.Sink
	cancel    context.CancelCauseFunc
	logger    *zap.Logger
	sendErr   error
}

// send 写出事件；客户端断开后停止生成
// send writes one event. A failed write means the client is gone, which
// cancels the generation.
func (t *turnRun) send(ev stream.Event) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	if err := t.sink.Send(ev); err != nil {
		t.sendErr = fmt.Errorf("send %s: %w", ev.Type, err)
		t.cancel(errClientGone)
		return t.sendErr
	}
	return nil
}

// persistCtx 持久化不受请求取消影响
func (t *turnRun) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

func (t *turnRun) persistModel(a action.Action) (chat.Turn, error) {
	ctx, cancel := t.persistCtx()
	defer cancel()
	turn, err := t.engine.store.AppendTurn(ctx, t.sessionID, chat.RoleModel, []chat.Part{action.ToPart(a)})
	if err != nil {
		t.logger.Error("append model turn failed", zap.Error(err))
		_ = t.send(stream.Error(msgInternal, ""))
		return chat.Turn{}, fmt.Errorf("append model turn: %w", err)
	}
	t.engine.index(turn)
	return turn, nil
}

// fail 发送 error 事件，并把同样的文本作为 reply 持久化
// fail ends the stream with an error event and persists a reply model turn
// carrying the same message.
func (t *turnRun) fail(message string, cause error) error {
	t.logger.Warn("generation failed", zap.String("message", message), zap.Error(cause))
	if _, err := t.persistModel(action.Reply{Content: message}); err != nil {
		return err
	}
	if err := t.send(stream.Error(message, cause.Error())); err != nil {
		return err
	}
	return nil
}

// cancelled 取消时不持久化部分输出；用户主动取消时写入一条 reply
// cancelled persists nothing partial. A user-initiated cancel records a
// single "cancelled by user" reply.
func (t *turnRun) cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if !errors.Is(cause, apperr.ErrCancelledByUser) {
		t.logger.Info("generation abandoned", zap.NamedError("cause", cause))
		return cause
	}
	t.logger.Info("generation cancelled by user")
	reply := action.Reply{Content: msgCancelled}
	if _, err := t.persistModel(reply); err != nil {
		return err
	}
	_ = t.send(stream.Final(action.Encode(reply)))
	return cause
}

func (t *turnRun) final(env action.Envelope) error {
	return t.send(stream.Final(env))
}

// complete 先持久化模型动作，再分发并发送 final
// complete persists the model action, dispatches it and sends final. Past
// this point a cancellation no longer changes what is recorded.
func (t *turnRun) complete(parsed action.Action) error {
	if _, err := t.persistModel(parsed); err != nil {
		return err
	}

	ctx, cancel := t.persistCtx()
	defer cancel()
	res := t.engine.dispatcher.Dispatch(ctx, parsed, t.req.UserID, t.sessionID)
	if res.Local != nil {
		turn, err := t.engine.store.AppendTurn(ctx, t.sessionID, chat.RoleFunction, []chat.Part{*res.Local})
		if err != nil {
			t.logger.Error("append function turn failed", zap.Error(err))
		} else {
			t.engine.index(turn)
		}
	}

	for _, ev := range actionEvents(parsed, res.Final) {
		if err := t.send(ev); err != nil {
			return err
		}
	}
	return t.final(action.Encode(res.Final))
}

func imagePart(encoded string) (chat.Part, error) {
	raw := strings.TrimSpace(encoded)
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return chat.Part{}, &apperr.ValidationError{Field: "imageBase64", Reason: "is not valid base64"}
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return chat.Part{}, &apperr.ValidationError{Field: "imageBase64", Reason: "is not an image"}
	}
	return chat.MediaPart(data, mime), nil
}
