package bootstrap

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"deskagent/internal/client"
	"deskagent/internal/config"
	"deskagent/internal/permission"
)

// ClientOptions 命令行覆盖项 / command-line overrides for the desktop client
type ClientOptions struct {
	AutoApprove bool
	SessionID   string
	Raw         bool
	In          *os.File
	Out         io.Writer
}

// ClientResult is the wired desktop client.
type ClientResult struct {
	API          *client.API
	Executor     *client.Executor
	Renderer     *client.Renderer
	Conversation *client.Conversation
	HistoryPath  string
}

// BuildClient wires the API client, local executor, consent and renderer
// into one conversation.
func BuildClient(cfg config.Config, opts ClientOptions, logger *zap.Logger) (*ClientResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	userID := strings.TrimSpace(cfg.Client.UserID)
	if userID == "" {
		return nil, fmt.Errorf("client.user_id is empty (set it in the config or DESKAGENT_USER_ID)")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	theme := client.DarkTheme()
	// no client timeout: generations stream for as long as the model runs
	api := client.NewAPI(cfg.Client.ServerURL, userID, &http.Client{})
	exec := client.NewExecutor(client.ExecutorOptions{
		Cwd:              cwd,
		ScriptsRoot:      cfg.Storage.BaseDir,
		CommandTimeoutMS: cfg.Client.CommandTimeoutMS,
		OutputLimitBytes: cfg.Client.OutputLimitBytes,
	}, client.NewScreenCapturer(), logger.Named("executor"))
	renderer := client.NewRenderer(opts.Out, theme, cfg.Client.RenderMarkdown, terminalWidth(opts.Out))
	renderer.ShowRaw = opts.Raw

	consent := buildConsent(opts.AutoApprove || cfg.Client.AutoApprove, opts.In, opts.Out, theme, logger)
	conv := client.NewConversation(api, exec, consent, renderer, platformName(runtime.GOOS), logger.Named("conversation"))
	conv.Policy = permission.New(cfg.Client.Permission)
	if id := strings.TrimSpace(opts.SessionID); id != "" {
		conv.Use(id)
	}

	return &ClientResult{
		API:          api,
		Executor:     exec,
		Renderer:     renderer,
		Conversation: conv,
		HistoryPath:  filepath.Join(cfg.Storage.BaseDir, "chat_history"),
	}, nil
}

// platformName 使用服务端识别的平台名（windows 报告为 win32）
// platformName reports the OS the way the prompt assembler names it
func platformName(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

// terminalWidth returns 0 (the renderer default) when out is not a terminal.
func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}
