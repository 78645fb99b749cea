package client

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deskagent/internal/action"
	"deskagent/internal/permission"
)

const (
	placeholderPrefix = "temp-"
	defaultMaxRounds  = 10
	cancelTimeout     = 5 * time.Second
)

// NewPlaceholderID 新会话的临时 id；服务端会分配真正的 id
// NewPlaceholderID is the throwaway id a new chat starts with until the
// server assigns a durable one.
func NewPlaceholderID() string {
	return placeholderPrefix + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// IsPlaceholder reports whether id was generated locally.
func IsPlaceholder(id string) bool {
	return id == "" || strings.HasPrefix(id, placeholderPrefix)
}

// Conversation 一个会话的客户端状态与工具往返循环
// Conversation drives the tool round-trip for one session: submit, render,
// execute remote actions with consent and feed TOOL_OUTPUT back.
type Conversation struct {
	api      *API
	exec     *Executor
	consent  Consent
	render   *Renderer
	platform string
	logger   *zap.Logger
	// MaxRounds bounds automatic follow-up submissions per user message.
	MaxRounds int
	// Policy, when set, decides actions before the user is asked.
	Policy *permission.Policy

	mu          sync.Mutex
	sessionID   string
	streaming   bool
	interrupted bool
	cancel      context.CancelFunc
}

func NewConversation(api *API, exec *Executor, consent Consent, render *Renderer, platform string, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		api:       api,
		exec:      exec,
		consent:   consent,
		render:    render,
		platform:  platform,
		logger:    logger,
		MaxRounds: defaultMaxRounds,
		sessionID: NewPlaceholderID(),
	}
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Use switches to an existing session.
func (c *Conversation) Use(id string) {
	c.mu.Lock()
	c.sessionID = strings.TrimSpace(id)
	c.mu.Unlock()
}

// Reset starts a new chat on the next Send.
func (c *Conversation) Reset() {
	c.Use(NewPlaceholderID())
}

// Interrupt 用户中断：生成中请求服务端取消，否则直接取消本地执行
// Interrupt stops the current Send on the user's behalf. While streaming it
// asks the server to cancel so the turn is recorded as cancelled; otherwise
// the local execution is aborted. Either way no tool result is submitted.
func (c *Conversation) Interrupt() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.interrupted = true
	streaming, id, cancel := c.streaming, c.sessionID, c.cancel
	c.mu.Unlock()

	if streaming && !IsPlaceholder(id) {
		ctx, done := context.WithTimeout(context.Background(), cancelTimeout)
		defer done()
		if ok, err := c.api.Cancel(ctx, id); err == nil && ok {
			return
		} else if err != nil {
			c.logger.Warn("server cancel failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	cancel()
}

// Send 提交一条用户消息，并在远程动作完成后自动回传结果
// Send submits message and keeps going while the assistant asks for remote
// actions, up to MaxRounds submissions.
func (c *Conversation) Send(ctx context.Context, message string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel, c.interrupted = cancel, false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	msg, image := message, ""
	for round := 0; ; round++ {
		if round >= c.MaxRounds {
			c.render.Notice("stopped after %d automatic follow-ups", c.MaxRounds)
			return nil
		}
		term, err := c.turn(ctx, GenerateRequest{Message: msg, Platform: c.platform, ImageBase64: image})
		if c.wasInterrupted() {
			c.render.Notice("interrupted")
			return nil
		}
		if err != nil {
			return err
		}
		if term.Final == nil {
			return nil
		}
		a, err := action.Decode(*term.Final)
		if err != nil {
			return nil
		}
		if _, ok := a.(action.Reply); ok {
			return nil
		}

		approved, err := c.approve(ctx, a)
		if c.wasInterrupted() {
			c.render.Notice("interrupted")
			return nil
		}
		if err != nil {
			return err
		}
		if !approved {
			c.render.Notice("skipped %s", a.Kind())
			return nil
		}

		outcome, err := c.exec.Execute(ctx, a)
		if c.wasInterrupted() || ctx.Err() != nil {
			c.render.Notice("interrupted")
			return nil
		}
		if err != nil {
			return err
		}
		c.render.Outcome(outcome)
		msg, image = outcome.Message(), outcome.ImageBase64
	}
}

// approve 先查策略：deny 直接拒绝，allow 跳过询问，其余交给 Consent
// approve consults the policy first. Deny refuses, allow skips the prompt and
// anything else goes to the consent prompt.
func (c *Conversation) approve(ctx context.Context, a action.Action) (bool, error) {
	req := c.exec.Approval(a)
	if c.Policy != nil {
		res := c.Policy.Decide(a)
		switch res.Decision {
		case permission.DecisionDeny:
			c.logger.Info("action denied by policy", zap.String("action", string(a.Kind())), zap.String("summary", req.Summary))
			c.render.Notice("%s: %s", res.Reason, req.Summary)
			return false, nil
		case permission.DecisionAllow:
			if req.Reason == "" {
				return true, nil
			}
		}
	}
	return c.consent.Approve(ctx, req)
}

func (c *Conversation) turn(ctx context.Context, req GenerateRequest) (Terminal, error) {
	req.SessionID = c.SessionID()
	c.render.Reset()
	events, err := c.api.Generate(ctx, req)
	if err != nil {
		return Terminal{}, err
	}
	defer events.Close()

	c.setStreaming(true)
	defer c.setStreaming(false)
	term, err := Consume(events, c.render, c.Use)
	if err != nil && ctx.Err() != nil {
		return term, ctx.Err()
	}
	if errors.Is(err, ErrStreamTruncated) {
		c.logger.Warn("generation stream truncated", zap.String("session_id", c.SessionID()))
	}
	return term, err
}

func (c *Conversation) setStreaming(v bool) {
	c.mu.Lock()
	c.streaming = v
	c.mu.Unlock()
}

func (c *Conversation) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}
