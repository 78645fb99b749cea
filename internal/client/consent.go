package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"deskagent/internal/tools"
)

// Consent 在执行远程动作之前征求用户同意
// Consent asks the user before a remote action runs on this machine
type Consent interface {
	Approve(ctx context.Context, req tools.ApprovalRequest) (bool, error)
}

// AutoApprove approves everything (--yes).
type AutoApprove struct{}

func (AutoApprove) Approve(context.Context, tools.ApprovalRequest) (bool, error) {
	return true, nil
}

// PromptConsent shows a bubbletea yes/no prompt on the terminal.
type PromptConsent struct {
	in    io.Reader
	out   io.Writer
	theme Theme
	keys  ConsentKeys
}

func NewPromptConsent(in io.Reader, out io.Writer, theme Theme) *PromptConsent {
	return &PromptConsent{in: in, out: out, theme: theme, keys: DefaultConsentKeys()}
}

func (p *PromptConsent) Approve(ctx context.Context, req tools.ApprovalRequest) (bool, error) {
	m := newConsentModel(req, p.theme, p.keys)
	prog := tea.NewProgram(m, tea.WithInput(p.in), tea.WithOutput(p.out), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("consent prompt: %w", err)
	}
	cm, ok := final.(consentModel)
	return ok && cm.approved, nil
}

// consentModel 单次确认的 bubbletea 模型，默认选中“拒绝”
// consentModel is a one-shot confirm. The cursor starts on deny.
type consentModel struct {
	req      tools.ApprovalRequest
	theme    Theme
	keys     ConsentKeys
	cursor   bool // true = allow
	approved bool
	done     bool
}

func newConsentModel(req tools.ApprovalRequest, theme Theme, keys ConsentKeys) consentModel {
	return consentModel{req: req, theme: theme, keys: keys}
}

func (m consentModel) Init() tea.Cmd {
	return nil
}

func (m consentModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, m.keys.Approve):
		m.approved, m.done = true, true
		return m, tea.Quit
	case key.Matches(km, m.keys.Deny), key.Matches(km, m.keys.Quit):
		m.approved, m.done = false, true
		return m, tea.Quit
	case key.Matches(km, m.keys.Toggle):
		m.cursor = !m.cursor
	case key.Matches(km, m.keys.Confirm):
		m.approved, m.done = m.cursor, true
		return m, tea.Quit
	}
	return m, nil
}

func (m consentModel) View() string {
	var b strings.Builder
	b.WriteString(m.theme.NoticeStyle.Render("Allow " + m.req.Tool + "?"))
	b.WriteString("\n  ")
	b.WriteString(m.theme.CommandStyle.Render(m.req.Summary))
	b.WriteString("\n")
	if m.req.Reason != "" {
		b.WriteString("  ")
		b.WriteString(m.theme.DangerStyle.Render("warning"))
		b.WriteString(" " + m.req.Reason + "\n")
	}
	if m.done {
		if m.approved {
			b.WriteString(m.theme.SuccessStyle.Render("  allowed"))
		} else {
			b.WriteString(m.theme.ErrorStyle.Render("  denied"))
		}
		return b.String() + "\n"
	}
	allow, deny := "  Allow  ", "[ Deny ]"
	if m.cursor {
		allow, deny = "[ Allow ]", "  Deny  "
	}
	b.WriteString("  " + allow + " " + deny + "\n")
	b.WriteString(m.theme.MutedStyle.Render(fmt.Sprintf("  %s · %s · %s",
		m.keys.Approve.Help().Key+" "+m.keys.Approve.Help().Desc,
		m.keys.Deny.Help().Key+" "+m.keys.Deny.Help().Desc,
		m.keys.Confirm.Help().Key+" "+m.keys.Confirm.Help().Desc)))
	return b.String() + "\n"
}
