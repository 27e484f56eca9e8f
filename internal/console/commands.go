package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"snap-automation/internal/browser"
	"snap-automation/internal/core"
	"snap-automation/pkg/utils"
)

// ErrExit is returned by the exit command; the shell ends its loop on it
var ErrExit = errors.New("exit requested")

func (a *App) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snap-bot",
		Short:         "Timed send-cycle automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		a.newStartCmd(),
		a.newPauseCmd(),
		a.newResumeCmd(),
		a.newStopCmd(),
		a.newStatusCmd(),
		a.newStatsCmd(),
		a.newConfigCmd(),
		a.newPositionsCmd(),
		&cobra.Command{
			Use:   "exit",
			Short: "Stop any session and leave the shell",
			RunE: func(cmd *cobra.Command, args []string) error {
				return ErrExit
			},
		},
	)
	cmd.SetHelpCommand(a.newHelpCmd())
	return cmd
}

func (a *App) newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start N",
		Short: "Start a session sending to N recipients per cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("recipient count %q is not a number", args[0])
			}
			if err := a.controller.Start(cmd.Context(), n); err != nil {
				return err
			}
			a.printf("Session started: %d %s per cycle (%s)\n",
				n, utils.Pluralize(int64(n), "recipient", "recipients"), a.controller.State())
			return nil
		},
	}
}

func (a *App) newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.controller.Pause() {
				return fmt.Errorf("cannot pause while %s", a.controller.State())
			}
			a.printf("Paused\n")
			return nil
		},
	}
}

func (a *App) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.controller.Resume() {
				return fmt.Errorf("cannot resume while %s", a.controller.State())
			}
			a.printf("Resumed\n")
			return nil
		},
	}
}

func (a *App) newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the session at the next interruption point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.controller.Stop() {
				a.printf("No session to stop (%s)\n", a.controller.State())
				return nil
			}
			a.printf("Stopping...\n")
			if wait <= 0 {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := a.controller.Wait(ctx); err != nil {
				return fmt.Errorf("session still stopping: %w", err)
			}
			a.printf("Stopped\n")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "block until the session is idle, e.g. 2s")
	return cmd
}

func (a *App) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printf("%s\n", a.controller.StatusLine())
			if missing := a.controller.Positions().Missing(); len(missing) > 0 {
				a.printf("Positions missing: %v\n", missing)
			}
			return nil
		},
	}
}

func (a *App) newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session and lifetime statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printStats(a.controller.Snapshot())
			return nil
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear all statistics (requires --yes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("this clears lifetime statistics; run 'stats reset --yes' to confirm")
			}
			if err := a.controller.ResetStatistics(cmd.Context()); err != nil {
				return err
			}
			a.printf("Statistics reset\n")
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	var (
		limit int
		since time.Duration
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.history == nil {
				return errors.New("no statistics database configured")
			}
			var (
				records []*core.SessionRecord
				err     error
			)
			if since > 0 {
				now := time.Now()
				records, err = a.history.SessionsBetween(cmd.Context(), now.Add(-since), now)
				if err == nil && limit > 0 && len(records) > limit {
					records = records[:limit]
				}
			} else {
				records, err = a.history.RecentSessions(cmd.Context(), limit)
			}
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if len(records) == 0 {
				a.printf("No sessions recorded\n")
				return nil
			}
			for _, r := range records {
				a.printf("%s  %-8s sent %-4d errors %-3d recipients %-3d streak %-4d %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					utils.FormatElapsed(r.EndedAt.Sub(r.StartedAt)),
					r.Count, r.Errors, r.RecipientCount, r.LongestStreak, r.Reason)
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 10, "number of sessions to show")
	history.Flags().DurationVar(&since, "since", 0, "only sessions started within this window, e.g. 24h")

	cmd.AddCommand(reset, history)
	return cmd
}

func (a *App) printStats(s core.StatisticsSnapshot) {
	a.printf("Lifetime sent:   %d\n", s.LifetimeCount)
	a.printf("Longest streak:  %d\n", s.LongestStreak)
	if s.SessionActive {
		a.printf("Session sent:    %d\n", s.SessionCount)
		a.printf("Session errors:  %d\n", s.SessionErrorCount)
		a.printf("Success rate:    %.1f%%\n", s.SuccessRate())
		a.printf("Current streak:  %d\n", s.CurrentStreak)
		a.printf("Elapsed:         %s\n", utils.FormatElapsed(s.Elapsed(time.Now())))
	}
	if last := s.LastSession; last != nil {
		a.printf("Last session:    %d sent, %d errors, %s, ended %s\n",
			last.Count, last.Errors, utils.FormatDuration(last.Duration),
			last.Timestamp.Local().Format("2006-01-02 15:04"))
	}
}

func (a *App) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, change, save or load the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range a.configs.Keys() {
				a.printf("%-36s %v\n", key, a.configs.Get(key))
			}
			a.printf("(file: %s)\n", a.configs.Path())
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting; applies to the next session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.configs.Set(args[0], args[1])
			if err != nil {
				return err
			}
			a.setConfig(cfg)
			a.printf("%s = %v\n", args[0], a.configs.Get(args[0]))
			if a.controller.State().Active() {
				a.printf("The running session keeps its settings; the change applies to the next one\n")
			}
			return nil
		},
	}

	save := &cobra.Command{
		Use:   "save [PATH]",
		Short: "Write the configuration to disk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if err := a.configs.Save(path, a.config()); err != nil {
				return err
			}
			a.printf("Configuration saved to %s\n", a.configs.Path())
			return nil
		},
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Reload the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.configs.Load()
			if err != nil {
				a.logger.Warn("Keeping current configuration", zap.Error(err))
				a.events.OnLog(fmt.Sprintf("Failed to load configuration, keeping current: %v", err), core.SeverityWarning)
				return err
			}
			a.setConfig(cfg)
			a.printf("Configuration loaded from %s\n", a.configs.Path())
			return nil
		},
	}

	cmd.AddCommand(show, set, save, load)
	return cmd
}

func (a *App) newPositionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Capture, load, clear or show the send positions",
	}

	capture := &cobra.Command{
		Use:   "capture",
		Short: "Click each button on the page when asked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.capturer == nil {
				return errors.New("no browser available for capture")
			}
			if a.controller.State().Active() {
				return core.ErrAlreadyRunning
			}
			delay := core.Seconds(a.config().Session.PositionDelay)
			a.printf("Click the %s when ready\n", core.StepDescriptions[core.RequiredSteps[0]])
			positions, err := browser.CaptureAll(cmd.Context(), a.capturer, delay, func(step string, p core.Point) {
				a.printf("  %-18s %s\n", core.StepDescriptions[step], p)
				if next := nextStep(step); next != "" {
					a.printf("Click the %s when ready\n", core.StepDescriptions[next])
				}
			})
			if err != nil {
				return err
			}
			a.controller.SetPositions(positions)
			if a.positions != nil {
				if err := a.positions.Save(positions); err != nil {
					return err
				}
			}
			a.printf("All positions captured\n")
			return nil
		},
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Load positions from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			missing, err := a.LoadPositions()
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				a.printf("Positions loaded; still missing %v\n", missing)
				return nil
			}
			a.printf("Positions loaded\n")
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget all positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.positions != nil {
				if err := a.positions.Clear(); err != nil {
					return err
				}
			}
			a.controller.SetPositions(core.Positions{})
			a.printf("Positions cleared\n")
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the registered positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			positions := a.controller.Positions()
			for _, step := range core.RequiredSteps {
				if p, ok := positions[step]; ok {
					a.printf("%-18s %s\n", core.StepDescriptions[step], p)
				} else {
					a.printf("%-18s not set\n", core.StepDescriptions[step])
				}
			}
			return nil
		},
	}

	cmd.AddCommand(capture, load, clearCmd, show)
	return cmd
}

func nextStep(step string) string {
	for i, s := range core.RequiredSteps {
		if s == step && i+1 < len(core.RequiredSteps) {
			return core.RequiredSteps[i+1]
		}
	}
	return ""
}

func (a *App) newHelpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "help",
		Short: "Show usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printf(`Commands:
  start N                      start sending to N recipients per cycle
  pause | resume               suspend or continue the running session
  stop [--wait 5s]             stop at the next interruption point
  status                       state, counters and elapsed time
  stats                        session and lifetime statistics
  stats history [--limit 10]   recent sessions; --since 24h for a window
  stats reset --yes            clear all statistics (idle only)
  config show                  print every setting
  config set KEY VALUE         e.g. config set session.loop_delay 6
  config save [PATH] | load    write or reload the config file
  positions capture            click each button on the page when asked
  positions load|clear|show    manage stored positions
  exit                         stop and quit

Setup: open the target page, run 'positions capture' and click %s.
Then 'start N'.

%s
`, stepList(), Disclaimer)
			return nil
		},
	}
}

func stepList() string {
	out := ""
	for i, step := range core.RequiredSteps {
		if i > 0 {
			out += ", "
		}
		out += core.StepDescriptions[step]
	}
	return out
}
