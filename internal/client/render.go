package client

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"deskagent/internal/action"
	"deskagent/internal/stream"
)

// Renderer 把流事件渲染到终端
// Renderer prints stream events to the terminal
type Renderer struct {
	out      io.Writer
	theme    Theme
	markdown bool
	width    int
	// ShowRaw echoes text_chunk payloads as they arrive.
	ShowRaw bool

	once     sync.Once
	md       *glamour.TermRenderer
	thinking bool
}

func NewRenderer(out io.Writer, theme Theme, markdown bool, width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{out: out, theme: theme, markdown: markdown, width: width}
}

// Markdown 使用 Glamour 渲染；失败时原样返回
// Markdown renders content with Glamour, falling back to the raw text
func (r *Renderer) Markdown(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if !r.markdown {
		return content
	}
	r.once.Do(func() {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(r.width),
		)
		if err == nil {
			r.md = md
		}
	})
	if r.md == nil {
		return content
	}
	rendered, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

// Event renders one non-terminal event.
func (r *Renderer) Event(ev stream.Event) {
	switch ev.Type {
	case stream.TypeTextChunk:
		text, err := ev.Text()
		if err != nil {
			return
		}
		if r.ShowRaw {
			fmt.Fprint(r.out, r.theme.MutedStyle.Render(text))
			return
		}
		if !r.thinking {
			r.thinking = true
			fmt.Fprintln(r.out, r.theme.MutedStyle.Render("thinking..."))
		}
	case stream.TypeCodeChunk:
		code, err := ev.CodeChunk()
		if err != nil {
			return
		}
		r.endRaw()
		fmt.Fprintln(r.out, r.Code(code.Language, code.Value))
	case stream.TypeCommandExec:
		cmd, err := ev.CommandExec()
		if err != nil {
			return
		}
		r.endRaw()
		fmt.Fprintln(r.out, r.theme.CommandStyle.Render("$ "+action.CommandLine(cmd.Command, cmd.Args)))
	}
}

// Code renders a code block.
func (r *Renderer) Code(language, value string) string {
	if r.markdown {
		return r.Markdown("```" + language + "\n" + value + "\n```")
	}
	return r.theme.CodeStyle.Render(value)
}

// Final renders the action of a final event: a reply as markdown, anything
// else as a one-line notice.
func (r *Renderer) Final(env action.Envelope) {
	r.endRaw()
	a, err := action.Decode(env)
	if err != nil {
		fmt.Fprintln(r.out, action.Render(env))
		return
	}
	if reply, ok := a.(action.Reply); ok {
		fmt.Fprintln(r.out, r.Markdown(reply.Content))
		return
	}
	fmt.Fprintln(r.out, r.theme.NoticeStyle.Render(action.Describe(a)))
}

// Error renders an error event.
func (r *Renderer) Error(p stream.ErrorPayload) {
	r.endRaw()
	fmt.Fprintln(r.out, r.theme.ErrorStyle.Render("error: "+p.Message))
}

// Outcome renders the local result of a remote action.
func (r *Renderer) Outcome(o Outcome) {
	status := r.theme.SuccessStyle.Render("✓ " + o.Subject)
	if !o.Result.Success {
		status = r.theme.ErrorStyle.Render("✗ " + o.Subject)
	}
	fmt.Fprintln(r.out, status)
	body := o.Result.Output
	if body == "" {
		body = o.Result.Content
	}
	if body = strings.TrimRight(body, "\n"); body != "" {
		fmt.Fprintln(r.out, r.theme.CodeStyle.Render(RenderDiff(body, r.theme)))
	}
	if o.Result.Error != "" {
		fmt.Fprintln(r.out, r.theme.MutedStyle.Render(strings.TrimRight(o.Result.Error, "\n")))
	}
}

// Notice prints a muted status line.
func (r *Renderer) Notice(format string, args ...any) {
	fmt.Fprintln(r.out, r.theme.MutedStyle.Render(fmt.Sprintf(format, args...)))
}

// Reset prepares for the next turn.
func (r *Renderer) Reset() {
	r.thinking = false
}

func (r *Renderer) endRaw() {
	if r.ShowRaw {
		fmt.Fprintln(r.out)
	}
}

// RenderDiff 为 diff 行着色；非 diff 文本原样返回
// RenderDiff colorizes the lines of a unified diff and leaves other text as is
func RenderDiff(text string, theme Theme) string {
	lines := strings.Split(text, "\n")
	if !looksLikeDiff(lines) {
		return text
	}
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = theme.MutedStyle.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = theme.CommandStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = theme.DiffAddStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = theme.DiffDelStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func looksLikeDiff(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, "@@ ") {
			return true
		}
	}
	return false
}
