package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"deskagent/internal/action"
	"deskagent/internal/security"
	"deskagent/internal/tools"
)

// Outcome 远程动作的执行结果
// Outcome is what a remote action produced on this machine
type Outcome struct {
	// Subject names the action in the TOOL_OUTPUT line.
	Subject     string
	Result      tools.Result
	ImageBase64 string
}

// Message is the synthetic user turn that reports the outcome.
func (o Outcome) Message() string {
	return tools.ToolOutput(o.Subject, o.Result)
}

type ExecutorOptions struct {
	// Cwd is the starting working directory; empty means the home directory.
	Cwd              string
	ScriptsRoot      string
	CommandTimeoutMS int
	OutputLimitBytes int
}

// Executor 在本机执行服务端下发的动作，并跟踪 cd 之后的工作目录
// Executor carries out remote actions locally and tracks the working
// directory across cd commands.
type Executor struct {
	runner      *tools.CommandRunner
	capturer    Capturer
	scriptsRoot string
	goos        string
	logger      *zap.Logger

	mu  sync.Mutex
	cwd string
}

func NewExecutor(opts ExecutorOptions, capturer Capturer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capturer == nil {
		capturer = NewScreenCapturer()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.UserHomeDir()
	}
	root := opts.ScriptsRoot
	if root == "" {
		root = cwd
	}
	return &Executor{
		runner:      tools.NewCommandRunner(opts.CommandTimeoutMS, opts.OutputLimitBytes),
		capturer:    capturer,
		scriptsRoot: root,
		goos:        runtime.GOOS,
		logger:      logger,
		cwd:         cwd,
	}
}

// Cwd returns the tracked working directory.
func (e *Executor) Cwd() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cwd
}

func (e *Executor) setCwd(dir string) {
	e.mu.Lock()
	e.cwd = dir
	e.mu.Unlock()
}

func (e *Executor) resolveInCwd(path string) (string, error) {
	return security.Within(e.Cwd(), path)
}

// Approval builds the consent prompt for a.
func (e *Executor) Approval(a action.Action) tools.ApprovalRequest {
	switch v := a.(type) {
	case action.RunCommand:
		return *e.runner.ApprovalRequest(e.Cwd(), v.Command, v.Args)
	case action.RunScript:
		req := tools.ApprovalRequest{Tool: string(v.Kind()), Summary: action.CommandLine(e.scriptCommand(v))}
		if isShellScript(v.Name) {
			req.Reason = security.AnalyzeScript(v.Code).Reason
		}
		return req
	case action.EditFile:
		req := tools.ApprovalRequest{Tool: string(v.Kind()), Summary: fmt.Sprintf("%s (%d bytes)", v.Path, len(v.NewContent))}
		if p, err := e.resolveInCwd(v.Path); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				req.Reason = "overwrites an existing file"
			}
		}
		return req
	case action.ReadFile:
		return tools.ApprovalRequest{Tool: string(v.Kind()), Summary: v.Path}
	case action.CaptureScreen:
		return tools.ApprovalRequest{Tool: string(v.Kind()), Summary: "capture the screen and send it to the assistant"}
	}
	return tools.ApprovalRequest{Tool: string(a.Kind()), Summary: action.Describe(a)}
}

// Execute 执行动作；失败体现在 Outcome.Result 中而不是 error
// Execute runs a. Failures are reported in Outcome.Result; the error is
// reserved for actions the client cannot carry out at all.
func (e *Executor) Execute(ctx context.Context, a action.Action) (Outcome, error) {
	switch v := a.(type) {
	case action.RunCommand:
		return e.runCommand(ctx, v), nil
	case action.RunScript:
		return e.runScript(ctx, v), nil
	case action.ReadFile:
		return Outcome{
			Subject: "readFile " + v.Path,
			Result:  tools.NewFileReader(e.resolveInCwd, 0).Read(v.Path),
		}, nil
	case action.EditFile:
		return e.editFile(v), nil
	case action.CaptureScreen:
		return e.captureScreen(ctx), nil
	}
	return Outcome{}, fmt.Errorf("action %s is not executed on the client", a.Kind())
}

func (e *Executor) runCommand(ctx context.Context, v action.RunCommand) Outcome {
	res := e.runner.Run(ctx, e.Cwd(), v.Command, v.Args)
	if res.Cwd != "" {
		e.setCwd(res.Cwd)
	}
	e.logger.Debug("command finished",
		zap.String("command", res.CommandLine),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return Outcome{Subject: res.CommandLine, Result: res.Result}
}

func (e *Executor) runScript(ctx context.Context, v action.RunScript) Outcome {
	out := Outcome{Subject: v.Name}
	path, err := e.scriptFile(v)
	if err != nil {
		out.Result = tools.Failure(err)
		return out
	}
	if v.Code != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			out.Result = tools.Failure(fmt.Errorf("prepare script: %w", err))
			return out
		}
		if err := os.WriteFile(path, []byte(v.Code), 0o755); err != nil {
			out.Result = tools.Failure(fmt.Errorf("write script: %w", err))
			return out
		}
	} else if _, err := os.Stat(path); err != nil {
		out.Result = tools.Failure(fmt.Errorf("script %q: %w", v.Name, err))
		return out
	}
	command, args := e.interpreter(v.Name, path)
	res := e.runner.Run(ctx, e.Cwd(), command, args)
	out.Result = res.Result
	return out
}

func (e *Executor) scriptFile(v action.RunScript) (string, error) {
	rel := v.Path
	if rel == "" {
		rel = tools.ScriptPath("", v.Name)
	}
	return security.Within(e.scriptsRoot, rel)
}

func (e *Executor) scriptCommand(v action.RunScript) (string, []string) {
	path, err := e.scriptFile(v)
	if err != nil {
		path = v.Path
	}
	return e.interpreter(v.Name, path)
}

func (e *Executor) editFile(v action.EditFile) Outcome {
	out := Outcome{Subject: "editFile " + v.Path}
	res, err := tools.NewFileWriter(e.resolveInCwd).Write(v.Path, v.NewContent)
	if err != nil {
		out.Result = tools.Failure(err)
		return out
	}
	out.Result = res.Result()
	return out
}

func (e *Executor) captureScreen(ctx context.Context) Outcome {
	out := Outcome{Subject: "captureScreen"}
	data, err := e.capturer.Capture(ctx)
	if err != nil {
		out.Result = tools.Failure(err)
		return out
	}
	out.Result = tools.Result{Success: true, Output: fmt.Sprintf("Screen captured (%d bytes PNG), attached to this message.", len(data))}
	out.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	return out
}

// interpreter 根据扩展名选择脚本解释器
// interpreter picks the program that runs a script by its extension
func (e *Executor) interpreter(name, path string) (string, []string) {
	windows := e.goos == "windows"
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh", ".bash":
		return "bash", []string{path}
	case ".zsh":
		return "zsh", []string{path}
	case ".ps1":
		return "powershell", []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}
	case ".py":
		if windows {
			return "python", []string{path}
		}
		return "python3", []string{path}
	case ".js":
		return "node", []string{path}
	case ".rb":
		return "ruby", []string{path}
	case ".pl":
		return "perl", []string{path}
	case ".applescript":
		return "osascript", []string{path}
	case ".bat", ".cmd":
		return path, nil
	}
	if windows {
		return path, nil
	}
	return "sh", []string{path}
}

func isShellScript(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh", ".bash", ".zsh", ".bat", ".cmd", ".ps1", "":
		return true
	}
	return false
}
