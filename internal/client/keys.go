package client

import "github.com/charmbracelet/bubbles/key"

// ConsentKeys 确认提示的按键绑定
// ConsentKeys are the keybindings of the consent prompt
type ConsentKeys struct {
	Approve key.Binding
	Deny    key.Binding
	Toggle  key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

func DefaultConsentKeys() ConsentKeys {
	return ConsentKeys{
		Approve: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "allow"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n", "N", "esc"),
			key.WithHelp("n/esc", "deny"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("left", "right", "h", "l", "tab"),
			key.WithHelp("←/→", "choose"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "confirm"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "deny"),
		),
	}
}
