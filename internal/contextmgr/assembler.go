package contextmgr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskagent/internal/action"
	"deskagent/internal/chat"
	"deskagent/internal/storage"
)

// HistoryStore 组装器读取的存储子集
// HistoryStore is the storage subset the assembler reads
type HistoryStore interface {
	PageTurns(ctx context.Context, sessionID string, limit, offset int) ([]chat.Turn, int, error)
	ListMemories(ctx context.Context, userID string) ([]storage.Memory, error)
}

// Recaller returns turns semantically close to text; failures yield nil.
type Recaller interface {
	Recall(ctx context.Context, sessionID, text string, k int, exclude ...string) []chat.Turn
}

// Options bounds what the assembler puts into a prompt.
type Options struct {
	HistoryTurns int
	RecallK      int
	TokenLimit   int
}

type Assembler struct {
	store     HistoryStore
	recall    Recaller
	tokenizer *Tokenizer
	opts      Options
	logger    *zap.Logger
}

func New(store HistoryStore, recall Recaller, tokenizer *Tokenizer, opts Options, logger *zap.Logger) *Assembler {
	if tokenizer == nil {
		tokenizer = &Tokenizer{}
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 20
	}
	if opts.RecallK < 0 {
		opts.RecallK = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, recall: recall, tokenizer: tokenizer, opts: opts, logger: logger}
}

// Request describes one prompt to assemble.
type Request struct {
	SessionID string
	UserID    string
	Platform  string
	// NewParts 当前用户输入；CurrentTurnID 为其已持久化的轮次，从历史中排除
	// NewParts is the current input; CurrentTurnID names its persisted turn,
	// which is excluded from history.
	NewParts      []chat.Part
	CurrentTurnID string
}

// Build 组装：系统提示词 → 最近 N 轮 → 召回轮次 → 当前用户输入
// Build assembles system prompt, recent history, recalled turns and the new
// user parts, then trims the oldest history to fit the token limit.
func (a *Assembler) Build(ctx context.Context, req Request) ([]chat.Message, error) {
	var (
		history  []chat.Turn
		memories []storage.Memory
		recalled []chat.Turn
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turns, _, err := a.store.PageTurns(gctx, req.SessionID, a.opts.HistoryTurns+1, 0)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = turns
		return nil
	})
	g.Go(func() error {
		mems, err := a.store.ListMemories(gctx, req.UserID)
		if err != nil {
			// 记忆是附加信息 / memories are supplementary
			a.logger.Warn("list memories failed", zap.String("user_id", req.UserID), zap.Error(err))
			return nil
		}
		memories = mems
		return nil
	})
	if a.recall != nil && a.opts.RecallK > 0 {
		query := partsText(req.NewParts)
		g.Go(func() error {
			// 多取候选，排除窗口内的轮次后再截断
			// over-fetch, then drop turns already in the window
			recalled = a.recall.Recall(gctx, req.SessionID, query, a.opts.RecallK+a.opts.HistoryTurns+1, req.CurrentTurnID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	window := make([]chat.Turn, 0, len(history))
	inWindow := map[string]struct{}{}
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.ID == req.CurrentTurnID {
			continue
		}
		window = append(window, t)
	}
	if len(window) > a.opts.HistoryTurns {
		window = window[len(window)-a.opts.HistoryTurns:]
	}
	for _, t := range window {
		inWindow[t.ID] = struct{}{}
	}

	system := chat.Message{Role: chat.MessageSystem, Content: SystemPrompt(req.Platform, memories)}

	historyMsgs := make([]chat.Message, 0, len(window))
	for _, t := range window {
		if msg, ok := TurnMessage(t); ok {
			historyMsgs = append(historyMsgs, msg)
		}
	}

	var recallMsg *chat.Message
	if len(recalled) > 0 {
		var picked []chat.Turn
		for _, t := range recalled {
			if _, ok := inWindow[t.ID]; ok || t.ID == req.CurrentTurnID {
				continue
			}
			picked = append(picked, t)
			if len(picked) == a.opts.RecallK {
				break
			}
		}
		if len(picked) > 0 {
			recallMsg = &chat.Message{Role: chat.MessageSystem, Content: recallText(picked)}
		}
	}

	userMsg := partsMessage(chat.MessageUser, req.NewParts)

	// Token 预算：优先丢弃最旧的历史，再丢弃召回
	// Token budget: drop the oldest history first, then the recall block
	fixed := a.tokenizer.Count([]chat.Message{system, userMsg})
	if recallMsg != nil {
		fixed += a.tokenizer.Count([]chat.Message{*recallMsg})
	}
	historyCost := a.tokenizer.Count(historyMsgs)
	if limit := a.opts.TokenLimit; limit > 0 {
		dropped := 0
		for len(historyMsgs) > 0 && fixed+historyCost > limit {
			historyCost -= a.tokenizer.Count(historyMsgs[:1])
			historyMsgs = historyMsgs[1:]
			dropped++
		}
		if recallMsg != nil && fixed+historyCost > limit {
			recallMsg = nil
		}
		if dropped > 0 {
			a.logger.Debug("history trimmed for token budget",
				zap.String("session_id", req.SessionID), zap.Int("dropped", dropped))
		}
	}

	out := make([]chat.Message, 0, len(historyMsgs)+3)
	out = append(out, system)
	out = append(out, historyMsgs...)
	if recallMsg != nil {
		out = append(out, *recallMsg)
	}
	out = append(out, userMsg)
	return out, nil
}

// TurnMessage 将持久化轮次转换为与模型无关的消息；无可用片段时返回 false
// TurnMessage converts a stored turn to a provider-neutral message. Turns
// without usable parts report false.
func TurnMessage(t chat.Turn) (chat.Message, bool) {
	usable := make([]chat.Part, 0, len(t.Parts))
	for _, p := range t.Parts {
		if p.Usable() {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return chat.Message{}, false
	}
	switch t.Role {
	case chat.RoleModel:
		return partsMessage(chat.MessageAssistant, usable), true
	default:
		return partsMessage(chat.MessageUser, usable), true
	}
}

func partsMessage(role string, parts []chat.Part) chat.Message {
	var (
		texts  []string
		images []chat.ContentPart
	)
	for _, p := range parts {
		switch p.Kind {
		case chat.PartText:
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		case chat.PartActionCall:
			if p.Call != nil {
				texts = append(texts, action.Envelope{Action: p.Call.Name, Parameters: p.Call.Arguments}.JSON())
			}
		case chat.PartActionResult:
			if p.Result != nil {
				texts = append(texts, resultText(p.Result))
			}
		case chat.PartInlineMedia:
			if p.Media != nil && len(p.Media.Data) > 0 {
				images = append(images, chat.ImageContent{
					Type: "image_url",
					ImageURL: chat.ImageURL{
						URL: "data:" + p.Media.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Media.Data),
					},
					Data:     p.Media.Data,
					MIMEType: p.Media.MIMEType,
				})
			}
		}
	}
	text := strings.Join(texts, "\n")
	if len(images) == 0 {
		return chat.Message{Role: role, Content: text}
	}
	multi := make([]chat.ContentPart, 0, len(images)+1)
	if text != "" {
		multi = append(multi, chat.TextContent{Type: "text", Text: text})
	}
	multi = append(multi, images...)
	return chat.Message{Role: role, MultiContent: multi}
}

func resultText(r *chat.ActionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s result]", r.Name)
	if r.Output != "" {
		b.WriteString("\nOutput: ")
		b.WriteString(r.Output)
	}
	if r.Error != "" {
		b.WriteString("\nError: ")
		b.WriteString(r.Error)
	}
	return b.String()
}

func recallText(turns []chat.Turn) string {
	var b strings.Builder
	b.WriteString("Relevant earlier conversation:")
	for _, t := range turns {
		msg, ok := TurnMessage(t)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n[%s] %s", t.Role, msg.Text())
	}
	return b.String()
}

func partsText(parts []chat.Part) string {
	var texts []string
	for _, p := range parts {
		if p.Kind == chat.PartText && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
