package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iabuilder/iabuilder/internal/app"
	"github.com/iabuilder/iabuilder/internal/engine"
)

// repl owns stdin and renders agent activity to the terminal. The confirm
// prompt shares the scanner with the main loop, so both always read from the
// same buffer.
type repl struct {
	app     *app.App
	scanner *bufio.Scanner

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the in-flight turn, nil at the prompt
}

func newREPL() *repl {
	return &repl{scanner: bufio.NewScanner(os.Stdin)}
}

func (r *repl) loop(ctx context.Context) error {
	a := r.app

	// Ctrl-C cancels the in-flight request instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.mu.Lock()
			cancel := r.cancel
			r.mu.Unlock()
			if cancel != nil {
				cancel()
			} else {
				fmt.Println("\n(interrupted, type /exit to quit)")
			}
		}
	}()

	a.Limiter.SetOnWait(func(remaining time.Duration) {
		fmt.Printf("\r⏳ rate limited, resuming in %s ", remaining.Round(time.Second))
	})

	fmt.Printf("iabuilder ready: %s/%s in %s\n", a.ProviderName(), a.Agent.Model(), a.Workdir)
	fmt.Println("type /help for commands")

	histPath := filepath.Join(a.HomeDir, "history.txt")

	for {
		fmt.Print("you> ")
		if !r.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		appendHistory(histPath, line)

		handled, err := a.Dispatch(ctx, line)
		if err != nil {
			if errors.Is(err, app.ErrQuit) {
				return nil
			}
			fmt.Printf("⚠️  %v\n", err)
			continue
		}
		if handled {
			continue
		}

		r.runTurn(ctx, line)
		fmt.Println()
	}
	return nil
}

// runTurn drives one agent turn with its own cancellable context so Ctrl-C
// aborts the request without tearing down the REPL.
func (r *repl) runTurn(ctx context.Context, line string) {
	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	streamed := r.app.Agent.Streaming()

	if err := r.app.Agent.HandleUserMessage(turnCtx, line); err != nil {
		fmt.Printf("⚠️  %v\n", err)
		return
	}
	if !streamed {
		r.printTurnReplies()
	}
}

// printTurnReplies renders the assistant messages of the turn that just
// finished. Streaming mode already printed them chunk by chunk.
func (r *repl) printTurnReplies() {
	msgs := r.app.Conv.Messages()
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == engine.RoleUser {
			start = i + 1
			break
		}
	}
	for _, m := range msgs[start:] {
		if m.Role != engine.RoleAssistant {
			continue
		}
		if text := strings.TrimSpace(m.Content); text != "" {
			fmt.Println(text)
		}
	}
}

func (r *repl) hooks() engine.Hooks {
	return engine.Hooks{
		OnChunk: func(chunk string) {
			fmt.Print(chunk)
		},
		OnNotice: func(msg string) {
			fmt.Printf("\n⚠️  %s\n", msg)
		},
		OnToolCall: func(name, args string) {
			fmt.Printf("tool → %s %s\n", name, preview(args, 120))
		},
		OnToolResult: func(name string, res engine.ToolResult) {
			if !res.Success {
				fmt.Printf("tool %s error: %s\n", name, res.Error)
				return
			}
			if res.Summary != "" {
				fmt.Printf("tool %s: %s\n", name, res.Summary)
			} else {
				fmt.Printf("tool %s: ok\n", name)
			}
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			fmt.Printf("⚠️  attempt %d failed: %v (retrying in %s)\n", attempt, err, delay.Round(time.Second))
		},
	}
}

// confirm asks before a tool call runs when autorun is off.
func (r *repl) confirm(call engine.ToolCall) bool {
	fmt.Printf("run %s %s? [y/N] ", call.Function.Name, preview(call.Function.Arguments, 200))
	if !r.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.scanner.Text()))
	return answer == "y" || answer == "yes"
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// appendHistory records each input line; failures are not worth interrupting
// the session for.
func appendHistory(path, line string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}
