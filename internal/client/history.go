package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"deskagent/internal/action"
	"deskagent/internal/chat"
)

// TurnText 将持久化的轮次渲染为用户可见文本
// TurnText renders a stored turn the way the chat showed it
func TurnText(t chat.Turn) string {
	var parts []string
	for _, p := range t.Parts {
		switch p.Kind {
		case chat.PartText:
			if s := strings.TrimSpace(p.Text); s != "" {
				parts = append(parts, s)
			}
		case chat.PartInlineMedia:
			parts = append(parts, "[image]")
		case chat.PartActionCall:
			if p.Call != nil {
				parts = append(parts, action.Render(action.Envelope{Action: p.Call.Name, Parameters: p.Call.Arguments}))
			}
		case chat.PartActionResult:
			if p.Result != nil {
				text := p.Result.Output
				if p.Result.Error != "" {
					text = strings.TrimSpace(text + "\nError: " + p.Result.Error)
				}
				parts = append(parts, fmt.Sprintf("[%s result] %s", p.Result.Name, text))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// PrintHistory 按时间顺序打印会话最近的 limit 轮
// PrintHistory prints the latest limit turns of a session, oldest first
func PrintHistory(ctx context.Context, api *API, r *Renderer, out io.Writer, sessionID string, limit int) error {
	page, err := api.Conversations(ctx, sessionID, 1, limit)
	if err != nil {
		return err
	}
	if len(page.Conversations) == 0 {
		r.Notice("no turns in session %s", sessionID)
		return nil
	}
	for i := len(page.Conversations) - 1; i >= 0; i-- {
		t := page.Conversations[i]
		label := r.theme.PromptStyle.Render(string(t.Role))
		fmt.Fprintf(out, "%s %s\n", label, r.theme.MutedStyle.Render(t.CreatedAt.Local().Format("2006-01-02 15:04")))
		text := TurnText(t)
		if t.Role == chat.RoleModel {
			text = r.Markdown(text)
		}
		fmt.Fprintln(out, text)
		fmt.Fprintln(out)
	}
	if page.TotalConversations > len(page.Conversations) {
		r.Notice("showing %d of %d turns", len(page.Conversations), page.TotalConversations)
	}
	return nil
}

// PrintSessions lists the user's sessions.
func PrintSessions(ctx context.Context, api *API, r *Renderer, out io.Writer, page, limit int) error {
	res, err := api.Sessions(ctx, page, limit)
	if err != nil {
		return err
	}
	if len(res.Sessions) == 0 {
		r.Notice("no sessions")
		return nil
	}
	for _, s := range res.Sessions {
		stamp := s.UpdatedAt.Local().Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%s  %s  %s\n", s.ID, r.theme.MutedStyle.Render(stamp), fitTitle(s.Title, r.width-runewidth.StringWidth(s.ID)-len(stamp)-4))
	}
	r.Notice("%d of %d sessions", len(res.Sessions), res.Total)
	return nil
}

// fitTitle 按显示宽度截断标题（中日韩字符占两列）
// fitTitle truncates title to width terminal cells; wide runes count as two
func fitTitle(title string, width int) string {
	if width < 10 {
		width = 10
	}
	return runewidth.Truncate(strings.TrimSpace(title), width, "…")
}
