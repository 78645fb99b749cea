package action

import (
	"fmt"
	"strings"
)

// Render returns the user-visible text for a persisted or streamed action.
// A reply renders as its content; other actions render as a short notice.
// Envelopes that fail validation render as their raw JSON.
func Render(env Envelope) string {
	a, err := Decode(env)
	if err != nil {
		return env.JSON()
	}
	return Describe(a)
}

// Describe is the one-line notice shown before an action takes effect.
func Describe(a Action) string {
	switch v := a.(type) {
	case Reply:
		return v.Content
	case RunCommand:
		return fmt.Sprintf("Running command: %s", CommandLine(v.Command, v.Args))
	case EditFile:
		return fmt.Sprintf("Editing file: %s (%d bytes)", v.Path, len(v.NewContent))
	case CreateScript:
		return fmt.Sprintf("Creating script: %s", v.Name)
	case ListScripts:
		return "Listing saved scripts"
	case RunScript:
		return fmt.Sprintf("Running script: %s", v.Name)
	case CaptureScreen:
		return "Capturing the screen"
	case ReadFile:
		return fmt.Sprintf("Reading file: %s", v.Path)
	}
	return string(a.Kind())
}

// CommandLine joins a command and its arguments, quoting any argument that
// contains spaces and is not already quoted.
func CommandLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, arg := range args {
		parts = append(parts, QuoteArg(arg))
	}
	return strings.Join(parts, " ")
}

// QuoteArg wraps arg in double quotes when it has a space.
func QuoteArg(arg string) string {
	if !strings.Contains(arg, " ") {
		return arg
	}
	if len(arg) >= 2 {
		first, last := arg[0], arg[len(arg)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return arg
		}
	}
	return `"` + arg + `"`
}
