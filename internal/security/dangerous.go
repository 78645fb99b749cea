package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// riskyPrograms maps a program name to what it can do to the desktop.
var riskyPrograms = map[string]string{
	"rm":               "deletes files",
	"del":              "deletes files",
	"erase":            "deletes files",
	"rd":               "deletes directories",
	"rmdir":            "deletes directories",
	"remove-item":      "deletes files",
	"mv":               "moves files",
	"move":             "moves files",
	"move-item":        "moves files",
	"chmod":            "changes permissions",
	"chown":            "changes ownership",
	"icacls":           "changes permissions",
	"takeown":          "changes ownership",
	"dd":               "writes raw devices",
	"mkfs":             "formats disks",
	"format":           "formats disks",
	"diskpart":         "edits disk partitions",
	"shutdown":         "powers off the machine",
	"reboot":           "restarts the machine",
	"stop-computer":    "powers off the machine",
	"restart-computer": "restarts the machine",
	"kill":             "stops processes",
	"killall":          "stops processes",
	"taskkill":         "stops processes",
	"stop-process":     "stops processes",
	"sudo":             "runs with elevated privileges",
	"runas":            "runs with elevated privileges",
}

// nestedShells run their -c / /c argument as another command line.
var nestedShells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "cmd": true, "powershell": true, "pwsh": true,
}

// CommandRisk 命令风险评估，用于确认提示中的警告
// CommandRisk is the warning attached to a consent prompt
type CommandRisk struct {
	RequireApproval bool
	Reason          string
}

func risky(reason string) CommandRisk {
	return CommandRisk{RequireApproval: true, Reason: reason}
}

// AnalyzeCommand 检查 runCommand 的程序名与参数
// AnalyzeCommand inspects a runCommand program and its arguments. The client
// hands the joined line to the platform shell, so every chained segment is
// checked as well.
func AnalyzeCommand(command string, args []string) CommandRisk {
	if strings.TrimSpace(command) == "" {
		return CommandRisk{}
	}
	for _, word := range append([]string{command}, args...) {
		if hasSubstitution(word) {
			return risky("contains command substitution")
		}
	}
	if reason, ok := riskyPrograms[ProgramName(command)]; ok {
		return risky(fmt.Sprintf("%s %s", ProgramName(command), reason))
	}
	var line strings.Builder
	line.WriteString(command)
	for _, arg := range args {
		line.WriteByte(' ')
		if strings.ContainsAny(arg, " \t") && !strings.ContainsAny(arg, `"'`) {
			arg = `"` + arg + `"`
		}
		line.WriteString(arg)
	}
	return analyzeLine(line.String())
}

// AnalyzeScript 逐行检查 shell 脚本内容
// AnalyzeScript checks a shell script body line by line, skipping comments.
func AnalyzeScript(code string) CommandRisk {
	for _, raw := range strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "::") || strings.HasPrefix(lower, "rem ") {
			continue
		}
		if risk := analyzeLine(line); risk.RequireApproval {
			return risk
		}
	}
	return CommandRisk{}
}

// ProgramName 返回小写的程序基本名（去掉目录、引号与可执行后缀）
// ProgramName is the lower-case base name of a program, without quotes,
// directory or executable suffix.
func ProgramName(word string) string {
	name := strings.Trim(strings.TrimSpace(word), `"'`)
	if name == "" {
		return ""
	}
	name = strings.ToLower(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	for _, ext := range []string{".exe", ".cmd", ".bat", ".com"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

func analyzeLine(line string) CommandRisk {
	if hasSubstitution(line) {
		return risky("contains command substitution")
	}
	segments, err := shellSegments(line)
	if err != nil {
		return risky("command parse failed: " + err.Error())
	}
	for _, words := range segments {
		if risk := analyzeSegment(words); risk.RequireApproval {
			return risk
		}
	}
	return CommandRisk{}
}

func analyzeSegment(words []string) CommandRisk {
	if len(words) == 0 {
		return CommandRisk{}
	}
	name := ProgramName(words[0])
	if reason, ok := riskyPrograms[name]; ok {
		return risky(fmt.Sprintf("%s %s", name, reason))
	}
	if !nestedShells[name] {
		return CommandRisk{}
	}
	for i := 1; i < len(words)-1; i++ {
		switch strings.ToLower(words[i]) {
		case "-c", "/c", "/k", "-command":
			return analyzeLine(strings.Join(words[i+1:], " "))
		}
	}
	return CommandRisk{}
}

func hasSubstitution(s string) bool {
	return strings.Contains(s, "$(") || strings.Contains(s, "`")
}

// shellSegments splits a command line into words per chained command.
// Unquoted ; & | ( ) and newlines end a segment. Backslashes are kept as
// written so Windows paths survive.
func shellSegments(line string) ([][]string, error) {
	var (
		segments [][]string
		words    []string
		cur      strings.Builder
		quote    rune
		quoted   bool
	)
	endWord := func() {
		if cur.Len() > 0 || quoted {
			words = append(words, cur.String())
			cur.Reset()
			quoted = false
		}
	}
	endSegment := func() {
		endWord()
		if len(words) > 0 {
			segments = append(segments, words)
			words = nil
		}
	}

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, quoted = r, true
		case r == ' ' || r == '\t':
			endWord()
		case strings.ContainsRune(";&|()\n", r):
			endSegment()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unmatched %c quote", quote)
	}
	endSegment()
	return segments, nil
}
