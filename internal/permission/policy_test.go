package permission

import (
	"testing"

	"deskagent/internal/action"
	"deskagent/internal/config"
)

func TestPolicyDecide(t *testing.T) {
	p := New(config.PermissionConfig{
		Default: "ask",
		Actions: map[string]string{
			"readFile":      "allow",
			"capturescreen": "deny",
			"editFile":      "nonsense",
		},
		Commands: map[string]string{
			"*":        "ask",
			"ls *":     "allow",
			"rm *":     "deny",
			"git log*": "allow",
		},
	})

	tests := []struct {
		name string
		a    action.Action
		want Decision
	}{
		{"action rule", action.ReadFile{Path: "a.txt"}, DecisionAllow},
		{"case-insensitive action", action.CaptureScreen{}, DecisionDeny},
		{"invalid rule falls back", action.EditFile{Path: "a", NewContent: "b"}, DecisionAsk},
		{"no rule uses default", action.RunScript{Name: "x.sh"}, DecisionAsk},
		{"command pattern allow", action.RunCommand{Command: "ls", Args: []string{"-la", "/tmp"}}, DecisionAllow},
		{"command pattern deny", action.RunCommand{Command: "rm", Args: []string{"-rf", "build"}}, DecisionDeny},
		{"unmatched command", action.RunCommand{Command: "whoami"}, DecisionAsk},
		{"prefix pattern", action.RunCommand{Command: "git", Args: []string{"log", "--oneline"}}, DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.a).Decision; got != tt.want {
				t.Fatalf("Decide(%v)=%s, want %s", tt.a, got, tt.want)
			}
		})
	}
}

func TestPolicyDecide_LongestPatternWins(t *testing.T) {
	p := New(config.PermissionConfig{
		Default: "ask",
		Commands: map[string]string{
			"git *":      "deny",
			"git status": "allow",
		},
	})
	if got := p.Decide(action.RunCommand{Command: "git", Args: []string{"status"}}).Decision; got != DecisionAllow {
		t.Fatalf("git status decision=%s", got)
	}
	if got := p.Decide(action.RunCommand{Command: "git", Args: []string{"push"}}).Decision; got != DecisionDeny {
		t.Fatalf("git push decision=%s", got)
	}
}

func TestPolicyDecide_CommandAllowlist(t *testing.T) {
	p := New(config.PermissionConfig{
		Default:          "ask",
		CommandAllowlist: []string{"PWD", "python"},
	})
	if got := p.Decide(action.RunCommand{Command: "pwd"}).Decision; got != DecisionAllow {
		t.Fatalf("pwd decision=%s", got)
	}
	if got := p.Decide(action.RunCommand{Command: `C:\Python\python.exe`, Args: []string{"-V"}}).Decision; got != DecisionAllow {
		t.Fatalf("python decision=%s", got)
	}
	if got := p.Decide(action.RunCommand{Command: "ls"}).Decision; got != DecisionAsk {
		t.Fatalf("ls decision=%s", got)
	}
}

func TestPolicyDecide_RiskyCommandStillAsks(t *testing.T) {
	p := New(config.PermissionConfig{
		Default:  "allow",
		Commands: map[string]string{"*": "allow"},
	})
	res := p.Decide(action.RunCommand{Command: "echo", Args: []string{"$(whoami)"}})
	if res.Decision != DecisionAsk || res.Reason == "" {
		t.Fatalf("result=%+v", res)
	}
	if got := p.Decide(action.RunCommand{Command: "echo", Args: []string{"hi"}}).Decision; got != DecisionAllow {
		t.Fatalf("echo decision=%s", got)
	}
	chained := p.Decide(action.RunCommand{Command: "ls", Args: []string{";", "rm", "-rf", "build"}})
	if chained.Decision != DecisionAsk || chained.Reason != "rm deletes files" {
		t.Fatalf("chained result=%+v", chained)
	}
}
