package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
)

var replCommands = []string{
	"/help              show commands",
	"/new               start a new chat",
	"/sessions          list your sessions",
	"/use <session_id>  continue an existing session",
	"/history           show the current session",
	"/cwd               print the working directory for commands",
	"/exit              quit",
}

// REPL 交互式聊天循环
// REPL is the interactive chat loop
type REPL struct {
	conv   *Conversation
	api    *API
	exec   *Executor
	input  LineInput
	render *Renderer
	out    io.Writer
}

func NewREPL(conv *Conversation, api *API, exec *Executor, input LineInput, render *Renderer, out io.Writer) *REPL {
	return &REPL{conv: conv, api: api, exec: exec, input: input, render: render, out: out}
}

func (r *REPL) printCommands() {
	fmt.Fprintln(r.out, "commands:")
	for _, cmd := range replCommands {
		fmt.Fprintf(r.out, "  %s\n", cmd)
	}
}

// Run reads lines until EOF or /exit.
func (r *REPL) Run(ctx context.Context) error {
	r.printCommands()
	for {
		line, err := r.input.ReadLine(r.render.theme.PromptStyle.Render("> "))
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(r.out)
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if exit := r.command(ctx, input); exit {
				return nil
			}
			continue
		}
		if err := r.send(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.render.Error(errorPayload(err))
		}
	}
}

// send 在生成期间把 Ctrl+C 转为中断
// send turns Ctrl+C into an interrupt while the turn is running
func (r *REPL) send(ctx context.Context, input string) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			r.conv.Interrupt()
		case <-done:
		}
	}()
	return r.conv.Send(ctx, input)
}

func (r *REPL) command(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch parts[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		r.printCommands()
	case "/new":
		r.conv.Reset()
		r.render.Notice("new chat")
	case "/sessions":
		if err := PrintSessions(ctx, r.api, r.render, r.out, 1, 20); err != nil {
			r.render.Error(errorPayload(err))
		}
	case "/use":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /use <session_id>")
			return false
		}
		r.conv.Use(parts[1])
		r.render.Notice("using session %s", parts[1])
	case "/history":
		id := r.conv.SessionID()
		if IsPlaceholder(id) {
			r.render.Notice("nothing sent yet")
			return false
		}
		if err := PrintHistory(ctx, r.api, r.render, r.out, id, 20); err != nil {
			r.render.Error(errorPayload(err))
		}
	case "/cwd":
		fmt.Fprintln(r.out, r.exec.Cwd())
	default:
		fmt.Fprintf(r.out, "unknown command %s\n", parts[0])
		r.printCommands()
	}
	return false
}
