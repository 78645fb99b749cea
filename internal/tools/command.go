package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"

	"deskagent/internal/action"
	"deskagent/internal/security"
)

var overwriteRedirectPattern = regexp.MustCompile(`(^|\s)(1>|2>|>)(\s*)([^\s]+)`)

// CommandRunner 在用户机器上执行 shell 命令（客户端）
// CommandRunner runs shell commands on the user's machine
type CommandRunner struct {
	commandTimeoutMS int
	outputLimitBytes int
	goos             string
}

func NewCommandRunner(commandTimeoutMS, outputLimitBytes int) *CommandRunner {
	return &CommandRunner{
		commandTimeoutMS: commandTimeoutMS,
		outputLimitBytes: outputLimitBytes,
		goos:             runtime.GOOS,
	}
}

// CommandResult is a finished command. Cwd is the working directory the
// next command should use; it differs from the input only after cd.
type CommandResult struct {
	Result
	CommandLine string
	ExitCode    int
	Truncated   bool
	Duration    time.Duration
	Cwd         string
}

// ApprovalRequest 返回确认提示需要的摘要与风险原因
// ApprovalRequest summarizes the command for the consent prompt
func (r *CommandRunner) ApprovalRequest(cwd, command string, args []string) *ApprovalRequest {
	line := action.CommandLine(command, args)
	req := &ApprovalRequest{Tool: string(action.NameRunCommand), Summary: line}
	if risk := security.AnalyzeCommand(command, args); risk.RequireApproval {
		req.Reason = risk.Reason
		return req
	}
	if target := extractExistingRedirectTarget(line, cwd); target != "" {
		req.Reason = fmt.Sprintf("overwrite redirection target exists: %s", target)
	}
	return req
}

// Run executes command with args in cwd. A "cd" is handled in-process and
// only moves the tracked working directory.
func (r *CommandRunner) Run(ctx context.Context, cwd, command string, args []string) CommandResult {
	line := action.CommandLine(command, args)
	if cwd == "" {
		cwd = homeDir()
	}
	if strings.TrimSpace(command) == "" {
		return CommandResult{Result: Result{Error: "command is empty"}, CommandLine: line, Cwd: cwd}
	}
	if strings.EqualFold(strings.TrimSpace(command), "cd") {
		return changeDir(cwd, args, line)
	}

	timeout := time.Duration(r.commandTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.shell(execCtx, line)
	cmd.Dir = effectiveDir(r.goos, cwd)
	cmd.WaitDelay = time.Second

	stdout := newCappedBuffer(r.outputLimitBytes)
	stderr := newCappedBuffer(r.outputLimitBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := CommandResult{
		CommandLine: line,
		Duration:    time.Since(start),
		Cwd:         cwd,
		Truncated:   stdout.truncated || stderr.truncated,
	}
	res.Output = decodeShellOutput(r.goos, stdout.Bytes(), stdout.truncated)
	res.Error = decodeShellOutput(r.goos, stderr.Bytes(), stderr.truncated)

	if err == nil {
		res.Success = true
		return res
	}
	var ee *exec.ExitError
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = 124
		res.Error = joinErr(res.Error, fmt.Sprintf("command timed out after %s", timeout))
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Error = joinErr(res.Error, "command cancelled")
	case errors.As(err, &ee):
		res.ExitCode = ee.ExitCode()
		if strings.TrimSpace(res.Error) == "" {
			res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
		}
	default:
		res.ExitCode = -1
		res.Error = joinErr(res.Error, err.Error())
	}
	return res
}

func (r *CommandRunner) shell(ctx context.Context, line string) *exec.Cmd {
	if r.goos == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", line)
}

func changeDir(cwd string, args []string, line string) CommandResult {
	target := strings.TrimSpace(strings.Join(args, " "))
	target = strings.Trim(target, `"'`)
	switch {
	case target == "" || target == "~":
		target = homeDir()
	case strings.HasPrefix(target, "~/"):
		target = filepath.Join(homeDir(), target[2:])
	case !filepath.IsAbs(target):
		target = filepath.Join(cwd, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return CommandResult{
			Result:      Result{Success: false, Error: fmt.Sprintf("cd: no such file or directory: %s", strings.Join(args, " "))},
			CommandLine: line,
			ExitCode:    1,
			Cwd:         cwd,
		}
	}
	return CommandResult{
		Result:      Result{Success: true, Output: "Directory changed to " + target},
		CommandLine: line,
		Cwd:         target,
	}
}

// effectiveDir 处理 Windows 盘符根目录（"C:" → "C:\"）
// effectiveDir turns a bare drive letter into its root on Windows
func effectiveDir(goos, cwd string) string {
	if goos == "windows" && len(cwd) == 2 && cwd[1] == ':' {
		return cwd + `\`
	}
	return cwd
}

// decodeShellOutput 在 Windows 上按 cp949 解码非 UTF-8 输出
// decodeShellOutput decodes cp949 console output on Windows
func decodeShellOutput(goos string, b []byte, truncated bool) string {
	out := string(b)
	if goos == "windows" && !utf8.Valid(b) {
		if decoded, err := korean.EUCKR.NewDecoder().Bytes(b); err == nil {
			out = string(decoded)
		}
	}
	if truncated {
		out += "\n[output truncated]"
	}
	return out
}

func joinErr(existing, msg string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return msg
	}
	return existing + "\n" + msg
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func extractExistingRedirectTarget(command, cwd string) string {
	matches := overwriteRedirectPattern.FindAllStringSubmatch(command, -1)
	for _, m := range matches {
		if len(m) < 5 {
			continue
		}
		target := strings.Trim(m[4], `"'`)
		if target == "" {
			continue
		}
		resolved := target
		if !filepath.IsAbs(target) {
			resolved = filepath.Join(cwd, target)
		}
		info, err := os.Stat(resolved)
		if err == nil && !info.IsDir() {
			return resolved
		}
	}
	return ""
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = 1 << 20
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.truncated {
		return len(p), nil
	}
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		_, _ = b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	_, err := b.buf.Write(p)
	return len(p), err
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
