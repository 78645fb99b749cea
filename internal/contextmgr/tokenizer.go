package contextmgr

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"deskagent/internal/chat"
)

const (
	// 每条消息的结构开销 / per-message framing overhead
	messageOverhead = 3
	// 内联截图按固定开销计 / an inline screenshot counts as a flat cost
	imageTokenCost = 258
)

// Tokenizer 估算提示词的 token 数，用于历史裁剪
// Tokenizer estimates prompt size for history trimming. The encoder is nil
// when no BPE table could be loaded; counts are then heuristic.
type Tokenizer struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewTokenizerForModel 使用模型自身的编码；未知模型（如 Gemini）用 cl100k_base 近似
// NewTokenizerForModel uses the model's own encoding when tiktoken knows it
// and approximates everything else, Gemini included, with cl100k_base.
func NewTokenizerForModel(model string) *Tokenizer {
	enc, err := tiktoken.EncodingForModel(strings.ToLower(strings.TrimSpace(model)))
	if err != nil {
		// 离线环境可能没有 BPE 缓存 / offline hosts may lack the BPE cache
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		return &Tokenizer{}
	}
	return &Tokenizer{encoder: enc}
}

// Count 计算消息列表的总 token 数
// Count returns the total for a message list.
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead + t.CountText(msg.Role)
		if len(msg.MultiContent) == 0 {
			total += t.CountText(msg.Content)
			continue
		}
		for _, p := range msg.MultiContent {
			switch v := p.(type) {
			case chat.TextContent:
				total += t.CountText(v.Text)
			case chat.ImageContent:
				total += imageTokenCost
			}
		}
	}
	return total
}

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.encoder == nil {
		return estimateTokens(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// estimateTokens counts a Han or Hangul rune as one token and any other
// text at four bytes per token.
func estimateTokens(text string) int {
	wide, other := 0, 0
	for _, r := range text {
		if isWideScript(r) {
			wide++
			continue
		}
		other += len(string(r))
	}
	n := wide + (other+3)/4
	if n < 1 {
		return 1
	}
	return n
}

func isWideScript(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x30FF: // kana
		return true
	case r >= 0x3400 && r <= 0x9FFF: // Han
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul
		return true
	}
	return false
}
