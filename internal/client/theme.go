package client

import "github.com/charmbracelet/lipgloss"

// Theme 终端输出的颜色和样式
// Theme defines the colors and styles of terminal output
type Theme struct {
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Danger  lipgloss.Color
	Success lipgloss.Color
	Muted   lipgloss.Color
	Border  lipgloss.Color

	NoticeStyle  lipgloss.Style
	CommandStyle lipgloss.Style
	CodeStyle    lipgloss.Style
	ErrorStyle   lipgloss.Style
	SuccessStyle lipgloss.Style
	MutedStyle   lipgloss.Style
	DangerStyle  lipgloss.Style
	PromptStyle  lipgloss.Style
	DiffAddStyle lipgloss.Style
	DiffDelStyle lipgloss.Style
}

// DarkTheme is the default theme.
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Accent:  lipgloss.Color("#F59E0B"),
		Danger:  lipgloss.Color("#EF4444"),
		Success: lipgloss.Color("#10B981"),
		Muted:   lipgloss.Color("#6B7280"),
		Border:  lipgloss.Color("#374151"),
	}

	t.NoticeStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.CommandStyle = lipgloss.NewStyle().
		Foreground(t.Accent)

	t.CodeStyle = lipgloss.NewStyle().
		BorderLeft(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		PaddingLeft(1)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.DangerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Danger).
		Bold(true).
		Padding(0, 1)

	t.PromptStyle = lipgloss.NewStyle().
		Foreground(t.Primary)

	t.DiffAddStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.DiffDelStyle = lipgloss.NewStyle().
		Foreground(t.Danger)

	return t
}
