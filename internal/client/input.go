package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

const continuationPrompt = "… "

// LineInput 读取一条聊天消息；行尾的反斜杠表示消息在下一行继续
// LineInput reads one chat message. A line ending in a backslash continues
// the message on the next line.
type LineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// readMessage joins continuation lines produced by next.
func readMessage(next func(prompt string) (string, error), prompt string) (string, error) {
	var lines []string
	for {
		line, err := next(prompt)
		if err != nil {
			if err == io.EOF && len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasSuffix(line, `\`) {
			return strings.Join(append(lines, line), "\n"), nil
		}
		lines = append(lines, strings.TrimSuffix(line, `\`))
		prompt = continuationPrompt
	}
}

type plainInput struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPlainInput reads messages from in without line editing, for pipes
// and terminals readline cannot drive.
func NewPlainInput(in io.Reader, out io.Writer) LineInput {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &plainInput{scanner: scanner, out: out}
}

func (p *plainInput) ReadLine(prompt string) (string, error) {
	return readMessage(func(prompt string) (string, error) {
		if p.out != nil {
			fmt.Fprint(p.out, prompt)
		}
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return p.scanner.Text(), nil
	}, prompt)
}

func (p *plainInput) Close() error { return nil }

type editorInput struct {
	rl *readline.Instance
}

// slashCompleter completes the REPL commands listed in replCommands.
func slashCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(replCommands))
	for _, line := range replCommands {
		if fields := strings.Fields(line); len(fields) > 0 {
			items = append(items, readline.PcItem(fields[0]))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

func newEditorInput(historyPath string) (*editorInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 "> ",
		HistoryFile:            historyPath,
		HistoryLimit:           1000,
		HistorySearchFold:      true,
		DisableAutoSaveHistory: true,
		AutoComplete:           slashCompleter(),
		InterruptPrompt:        "^C",
	})
	if err != nil {
		return nil, err
	}
	return &editorInput{rl: rl}, nil
}

// ReadLine records the joined message as one history entry.
func (e *editorInput) ReadLine(prompt string) (string, error) {
	msg, err := readMessage(func(prompt string) (string, error) {
		e.rl.SetPrompt(prompt)
		return e.rl.Readline()
	}, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg) != "" {
		_ = e.rl.SaveHistory(msg)
	}
	return msg, nil
}

func (e *editorInput) Close() error {
	if e == nil || e.rl == nil {
		return nil
	}
	return e.rl.Close()
}

// NewLineInput 优先使用 readline；失败时退回到基础输入并返回原因
// NewLineInput prefers the readline editor and falls back to plain stdin,
// returning the reason alongside a usable input.
func NewLineInput(historyPath string) (LineInput, error) {
	editor, err := newEditorInput(historyPath)
	if err == nil {
		return editor, nil
	}
	return NewPlainInput(os.Stdin, os.Stdout), err
}
