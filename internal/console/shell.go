package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/shlex"
	"go.uber.org/zap"

	"snap-automation/internal/core"
	"snap-automation/internal/events"
)

// Severity labels are colored when the output is a terminal
var severityColors = map[core.Severity]*color.Color{
	core.SeverityDebug:   color.New(color.FgHiBlack),
	core.SeverityInfo:    color.New(color.FgCyan),
	core.SeveritySuccess: color.New(color.FgGreen),
	core.SeverityWarning: color.New(color.FgYellow),
	core.SeverityError:   color.New(color.FgRed, color.Bold),
}

// ExecuteLine tokenises one shell line and runs it. It returns ErrExit for
// exit and quit.
func (a *App) ExecuteLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	if tokens[0] == "quit" {
		return ErrExit
	}
	return a.Execute(ctx, tokens)
}

// RunShell reads commands until exit, EOF or ctx is cancelled. Any running
// session is stopped before it returns.
func (a *App) RunShell(ctx context.Context, prompt string) error {
	historyFile := filepath.Join(os.TempDir(), "snap-bot-shell.history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	// Async output (session events) goes through readline so the prompt is
	// redrawn below it
	a.setOutput(rl.Stdout())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = rl.Close()
		case <-done:
		}
	}()
	defer a.shutdown()

	a.printf("%s\n\nInteractive shell. 'help' for commands, 'exit' to quit.\n", Disclaimer)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		err = a.ExecuteLine(ctx, line)
		if errors.Is(err, ErrExit) {
			a.printf("Bye!\n")
			return nil
		}
		if err != nil {
			a.printf("error: %v\n", err)
		}
	}
}

// shutdown stops a running session and waits briefly for it to reach Idle
func (a *App) shutdown() {
	if !a.controller.Stop() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.controller.Wait(ctx); err != nil {
		a.logger.Warn("Session did not stop in time", zap.Error(err))
	}
}

// PrintEvents writes events from the channel sink to the console until ctx
// is cancelled. Status updates are skipped; 'status' shows them on demand.
func (a *App) PrintEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if e.Kind != events.KindLog {
				continue
			}
			label := strings.ToUpper(e.Severity.String())
			if c, ok := severityColors[e.Severity]; ok {
				label = c.Sprint(label)
			}
			a.printf("[%s] %s %s\n", time.Now().Format("15:04:05"), label, e.Message)
		}
	}
}
