package bootstrap

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"deskagent/internal/client"
	"deskagent/internal/tools"
)

// denyAll 非交互环境下的确认器：一律拒绝，避免静默执行
// denyAll refuses every action. It is used when nobody can answer a prompt.
type denyAll struct {
	logger *zap.Logger
}

func (d denyAll) Approve(_ context.Context, req tools.ApprovalRequest) (bool, error) {
	d.logger.Warn("action denied: stdin is not a terminal (use --yes to allow)",
		zap.String("tool", req.Tool),
		zap.String("summary", req.Summary))
	return false, nil
}

// buildConsent 选择确认方式：--yes 自动放行，非终端一律拒绝，否则交互确认
// buildConsent picks how remote actions are confirmed: auto-approve when
// asked to, deny when stdin is not a terminal, otherwise prompt.
func buildConsent(autoApprove bool, in *os.File, out io.Writer, theme client.Theme, logger *zap.Logger) client.Consent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoApprove {
		return client.AutoApprove{}
	}
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return denyAll{logger: logger}
	}
	return client.NewPromptConsent(in, out, theme)
}
