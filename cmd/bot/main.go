package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"snap-automation/config"
	"snap-automation/internal/browser"
	"snap-automation/internal/console"
	"snap-automation/internal/core"
	"snap-automation/internal/events"
	"snap-automation/internal/repository"
	"snap-automation/internal/session"
	"snap-automation/internal/stats"
	"snap-automation/internal/stealth"
	"snap-automation/internal/workflows"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	noBrowser  bool
	start      int
	noShell    bool
	prompt     string
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ./config/config.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "write JSON logs")
	fs.BoolVar(&o.noBrowser, "no-browser", false, "do not open the browser at startup")
	fs.IntVar(&o.start, "start", 0, "start a session for N recipients right away")
	fs.BoolVar(&o.noShell, "no-shell", false, "with --start, run until the session ends instead of opening the shell")
	fs.StringVar(&o.prompt, "prompt", "snap> ", "shell prompt")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "snap-bot",
		Short:         "Timed send-cycle automation with an interactive console",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.noShell && opts.start < 1 {
				return fmt.Errorf("--no-shell needs --start N")
			}
			return run(cmd.Context(), opts)
		},
	}
	bindFlags(cmd.Flags(), opts)
	return cmd
}

func newLogger(level string, json bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

func run(parent context.Context, opts *options) error {
	configs := config.NewManager(opts.configPath)
	cfg, cfgErr := configs.LoadOrDefault()

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := newLogger(level, opts.jsonLogs || cfg.Logging.JSON)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Warn("Using default configuration", zap.Error(cfgErr))
	} else {
		logger.Info("Configuration loaded", zap.String("config_path", configs.Path()))
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Statistics persistence is optional: without it counters live in memory
	var repo *repository.SQLiteRepository
	if r, err := repository.NewSQLiteRepository(cfg.Database.Path); err != nil {
		logger.Warn("Statistics will not be persisted", zap.Error(err))
	} else {
		repo = r
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Error("Failed to close repository", zap.Error(err))
			}
		}()
		logger.Info("Repository initialized", zap.String("db_path", cfg.Database.Path))
	}

	positions, err := repository.NewPositionFile(cfg.Positions.Path)
	if err != nil {
		return err
	}

	policy := stealth.NewPolicy()

	// The pointer path shares the policy's random stream
	instance := browser.NewInstance(&cfg.Browser, policy.Source(), logger.Named("browser"))
	defer func() {
		if err := instance.Close(); err != nil {
			logger.Error("Failed to close browser", zap.Error(err))
		}
	}()
	workflow := workflows.NewSendWorkflow(instance, policy, logger.Named("workflow"))

	// The shell prints events itself; headless runs log them
	sink := events.NewChannelSink(256)
	hub := events.NewHub()
	if opts.noShell {
		hub.Register(events.NewLogSink(logger))
	} else {
		hub.Register(sink)
	}
	if cfgErr != nil {
		hub.OnLog(fmt.Sprintf("Using default configuration: %v", cfgErr), core.SeverityWarning)
	}

	ctrlOpts := []session.Option{
		session.WithPolicy(policy),
		session.WithLogger(logger.Named("session")),
	}
	deps := console.Deps{
		Config:    configs,
		Positions: positions,
		Capturer:  instance,
		Events:    hub,
		Logger:    logger,
	}
	if repo != nil {
		ctrlOpts = append(ctrlOpts, session.WithRepository(repo))
		deps.History = repo
	}
	controller := session.NewController(workflow, stats.NewAggregator(), hub, ctrlOpts...)
	deps.Controller = controller

	if err := controller.LoadStatistics(ctx); err != nil {
		logger.Warn("Starting with empty statistics", zap.Error(err))
	}

	app, err := console.NewApp(deps, cfg)
	if err != nil {
		return err
	}
	// A load failure is reported through the hub
	if missing, err := app.LoadPositions(); err == nil && len(missing) > 0 {
		logger.Info("Positions not configured yet", zap.Strings("missing", missing))
	}

	if !opts.noBrowser {
		if err := instance.Initialize(ctx); err != nil {
			logger.Error("Failed to initialize browser", zap.Error(err))
		} else {
			workflow.ResetPrime()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	uiCtx, cancelUI := context.WithCancel(gctx)
	defer cancelUI()

	g.Go(func() error {
		app.PrintEvents(uiCtx, sink.Events())
		return nil
	})

	if opts.start > 0 {
		if err := app.Execute(gctx, []string{"start", strconv.Itoa(opts.start)}); err != nil {
			cancelUI()
			_ = g.Wait()
			return err
		}
	}

	g.Go(func() error {
		defer cancelUI()
		if opts.noShell {
			return controller.Wait(gctx)
		}
		return app.RunShell(gctx, opts.prompt)
	})

	err = g.Wait()
	controller.Stop()
	_ = controller.Wait(context.Background())

	snap := controller.Snapshot()
	logger.Info("Exiting",
		zap.Int64("lifetime_count", snap.LifetimeCount),
		zap.String("state", string(controller.State())),
	)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
