package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestCommandRunnerRunSuccessAndTruncation(t *testing.T) {
	skipOnWindows(t)
	runner := NewCommandRunner(2000, 16)

	res := runner.Run(context.Background(), t.TempDir(), "printf", []string{"hello world hello world"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.CommandLine != `printf "hello world hello world"` {
		t.Fatalf("command line=%q", res.CommandLine)
	}
	if !res.Truncated || !strings.Contains(res.Output, "[output truncated]") {
		t.Fatalf("expected truncated marker: %+v", res)
	}
}

func TestCommandRunnerFailingCommand(t *testing.T) {
	skipOnWindows(t)
	runner := NewCommandRunner(2000, 1024)

	res := runner.Run(context.Background(), t.TempDir(), "ls", []string{"definitely-missing-dir"})
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.ExitCode == 0 || strings.TrimSpace(res.Error) == "" {
		t.Fatalf("expected exit code and stderr, got %+v", res)
	}
	out := ToolOutput(res.CommandLine, res.Result)
	if !strings.HasPrefix(out, "TOOL_OUTPUT: ls definitely-missing-dir Status: Failure") {
		t.Fatalf("tool output=%q", out)
	}
}

func TestCommandRunnerTimeout(t *testing.T) {
	skipOnWindows(t)
	runner := NewCommandRunner(50, 1024)
	res := runner.Run(context.Background(), t.TempDir(), "sleep", []string{"5"})
	if res.Success || res.ExitCode != 124 {
		t.Fatalf("expected timeout exit 124, got %+v", res)
	}
}

func TestCommandRunnerChangeDir(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "my docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	runner := NewCommandRunner(1000, 1024)

	res := runner.Run(context.Background(), root, "cd", []string{"my", "docs"})
	if !res.Success || res.Cwd != filepath.Join(root, "my docs") {
		t.Fatalf("cd result=%+v", res)
	}

	res = runner.Run(context.Background(), root, "cd", []string{"nope"})
	if res.Success || res.Cwd != root {
		t.Fatalf("cd into missing dir should fail and keep cwd: %+v", res)
	}
}

func TestCommandRunnerEmptyCommand(t *testing.T) {
	res := NewCommandRunner(1000, 64).Run(context.Background(), t.TempDir(), "   ", nil)
	if res.Success || !strings.Contains(res.Error, "empty") {
		t.Fatalf("expected empty command error, got: %+v", res)
	}
}

func TestCommandRunnerApprovalRequest(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "exists.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := NewCommandRunner(1000, 64)

	req := runner.ApprovalRequest(root, "echo", []string{"hi", ">", "exists.txt"})
	if !strings.Contains(req.Reason, "overwrite redirection") {
		t.Fatalf("expected overwrite reason, got %+v", req)
	}
	req = runner.ApprovalRequest(root, "rm", []string{"-rf", "build"})
	if req.Reason == "" || req.Summary != "rm -rf build" {
		t.Fatalf("expected risk reason, got %+v", req)
	}
	if req := runner.ApprovalRequest(root, "ls", nil); req.Reason != "" {
		t.Fatalf("ls should carry no warning, got %+v", req)
	}
}

func TestDecodeShellOutput(t *testing.T) {
	cp949 := []byte{0xbe, 0xc8, 0xb3, 0xe7}
	if got := decodeShellOutput("windows", cp949, false); got != "안녕" {
		t.Fatalf("windows decode=%q", got)
	}
	if got := decodeShellOutput("windows", []byte("plain"), false); got != "plain" {
		t.Fatalf("utf-8 passthrough=%q", got)
	}
	if got := decodeShellOutput("linux", []byte("abc"), true); got != "abc\n[output truncated]" {
		t.Fatalf("truncated=%q", got)
	}
}

func TestEffectiveDir(t *testing.T) {
	if got := effectiveDir("windows", "C:"); got != `C:\` {
		t.Fatalf("drive root=%q", got)
	}
	if got := effectiveDir("linux", "/tmp"); got != "/tmp" {
		t.Fatalf("unix dir=%q", got)
	}
}

func TestCappedBufferWrite(t *testing.T) {
	b := newCappedBuffer(4)
	_, _ = b.Write([]byte("abcdef"))
	if !b.truncated {
		t.Fatalf("expected truncated")
	}
	if got := b.String(); !strings.Contains(got, "[output truncated]") {
		t.Fatalf("unexpected string: %q", got)
	}
}
