package orchestrator

import (
	"path/filepath"
	"strings"

	"deskagent/internal/action"
	"deskagent/internal/stream"
)

var scriptLanguages = map[string]string{
	".sh":          "bash",
	".bash":        "bash",
	".zsh":         "zsh",
	".ps1":         "powershell",
	".bat":         "batch",
	".cmd":         "batch",
	".py":          "python",
	".js":          "javascript",
	".rb":          "ruby",
	".pl":          "perl",
	".applescript": "applescript",
}

// actionEvents 在 final 之前发送的信息性事件（代码块、将要执行的命令）
// actionEvents are the informational events sent ahead of final: script
// code as code_chunk and the command the client is about to run as
// command_exec.
func actionEvents(parsed, final action.Action) []stream.Event {
	var events []stream.Event
	if cs, ok := parsed.(action.CreateScript); ok && cs.Code != "" {
		events = append(events, stream.Code(LanguageFor(cs.Name), cs.Code))
	}
	switch v := final.(type) {
	case action.RunCommand:
		events = append(events, stream.Command(v.Command, v.Args))
	case action.RunScript:
		if v.Code != "" {
			events = append(events, stream.Code(LanguageFor(v.Name), v.Code))
		}
		events = append(events, stream.Command(v.Path, nil))
	}
	return events
}

// LanguageFor guesses a highlight language from a script file name.
func LanguageFor(name string) string {
	if lang, ok := scriptLanguages[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}
	return "text"
}
