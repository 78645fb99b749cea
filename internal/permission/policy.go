package permission

import (
	"regexp"
	"sort"
	"strings"

	"deskagent/internal/action"
	"deskagent/internal/config"
	"deskagent/internal/security"
)

type Decision string

const (
	DecisionAllow Decision = config.PermissionAllow
	DecisionAsk   Decision = config.PermissionAsk
	DecisionDeny  Decision = config.PermissionDeny
)

type Result struct {
	Decision Decision
	Reason   string
}

// Policy 在询问用户之前对远程动作作出决定
// Policy decides a remote action before the user is asked.
type Policy struct {
	cfg      config.PermissionConfig
	patterns []string
}

func New(cfg config.PermissionConfig) *Policy {
	patterns := make([]string, 0, len(cfg.Commands))
	for pattern := range cfg.Commands {
		if strings.TrimSpace(pattern) == "" || pattern == "*" {
			continue
		}
		patterns = append(patterns, pattern)
	}
	// 最长的模式优先 / longest pattern first
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	return &Policy{cfg: cfg, patterns: patterns}
}

func (p *Policy) Decide(a action.Action) Result {
	if rc, ok := a.(action.RunCommand); ok {
		return p.decideCommand(rc)
	}
	decision := normalizeDecision(p.actionRule(string(a.Kind())), p.defaultDecision())
	switch decision {
	case DecisionAllow:
		return Result{Decision: DecisionAllow}
	case DecisionDeny:
		return Result{Decision: DecisionDeny, Reason: "blocked by policy"}
	default:
		return Result{Decision: DecisionAsk, Reason: "policy requires approval"}
	}
}

func (p *Policy) defaultDecision() Decision {
	return normalizeDecision(p.cfg.Default, DecisionAsk)
}

func (p *Policy) actionRule(name string) string {
	if rule, ok := p.cfg.Actions[name]; ok {
		return rule
	}
	for k, v := range p.cfg.Actions {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (p *Policy) decideCommand(rc action.RunCommand) Result {
	line := action.CommandLine(rc.Command, rc.Args)
	decision := normalizeDecision(p.actionRule(string(action.NameRunCommand)), p.defaultDecision())
	decision = normalizeDecision(p.cfg.Commands["*"], decision)
	for _, pattern := range p.patterns {
		if matchPattern(pattern, line) {
			decision = normalizeDecision(p.cfg.Commands[pattern], decision)
			break
		}
	}

	// allowlist：策略为 ask 且命中 command_allowlist 时直接放行
	if decision == DecisionAsk && p.isAllowedByCommandAllowlist(rc.Command) {
		decision = DecisionAllow
	}

	switch decision {
	case DecisionAllow:
		// 危险命令即使被允许也要确认 / risky commands are always confirmed
		if risk := security.AnalyzeCommand(rc.Command, rc.Args); risk.RequireApproval {
			return Result{Decision: DecisionAsk, Reason: risk.Reason}
		}
		return Result{Decision: DecisionAllow}
	case DecisionDeny:
		return Result{Decision: DecisionDeny, Reason: "command blocked by policy"}
	default:
		return Result{Decision: DecisionAsk, Reason: "command policy requires approval"}
	}
}

func (p *Policy) isAllowedByCommandAllowlist(command string) bool {
	name := security.ProgramName(command)
	if name == "" {
		return false
	}
	for _, raw := range p.cfg.CommandAllowlist {
		if strings.ToLower(strings.TrimSpace(raw)) == name {
			return true
		}
	}
	return false
}

// matchPattern 全行匹配；* 匹配任意字符（包括路径分隔符），? 匹配单个字符
// matchPattern matches the whole line; * matches any run of characters,
// path separators included, and ? matches one.
func matchPattern(pattern, line string) bool {
	expr := regexp.QuoteMeta(strings.TrimSpace(pattern))
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `\?`, ".")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return false
	}
	return re.MatchString(strings.TrimSpace(line))
}

func normalizeDecision(raw string, fallback Decision) Decision {
	switch Decision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionAllow:
		return DecisionAllow
	case DecisionAsk:
		return DecisionAsk
	case DecisionDeny:
		return DecisionDeny
	default:
		return fallback
	}
}
