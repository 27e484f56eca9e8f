// Package console is the interactive control surface: a cobra command tree
// executed from a readline shell.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"snap-automation/config"
	"snap-automation/internal/core"
	"snap-automation/internal/events"
	"snap-automation/internal/session"
)

// Disclaimer is printed by help and when the shell starts
const Disclaimer = `This tool automates clicks on a page you control. Use it only where the
service's terms allow it. Keep the recipient count honest; it only weights
the lifetime counter.`

// Deps are the collaborators the commands drive. Capturer and History may
// be nil; the commands that need them report it. Events receives load
// failures; nil drops them.
type Deps struct {
	Controller *session.Controller
	Config     *config.Manager
	Positions  core.PositionStorePort
	Capturer   core.PositionCapturer
	History    core.StatsRepositoryPort
	Events     core.EventSink
	Out        io.Writer
	Logger     *zap.Logger
}

// App executes console commands against the controller
type App struct {
	controller *session.Controller
	configs    *config.Manager
	positions  core.PositionStorePort
	capturer   core.PositionCapturer
	history    core.StatsRepositoryPort
	events     core.EventSink
	out        io.Writer
	logger     *zap.Logger

	mu  sync.Mutex
	cfg *core.Config

	outMu sync.Mutex
}

// NewApp creates the console. cfg is the configuration already loaded by
// the caller; it is pushed into the controller.
func NewApp(deps Deps, cfg *core.Config) (*App, error) {
	if deps.Controller == nil {
		return nil, errors.New("controller is required")
	}
	if deps.Config == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NewHub()
	}

	a := &App{
		controller: deps.Controller,
		configs:    deps.Config,
		positions:  deps.Positions,
		capturer:   deps.Capturer,
		history:    deps.History,
		events:     deps.Events,
		out:        deps.Out,
		logger:     deps.Logger.Named("console"),
		cfg:        cfg,
	}
	a.controller.SetConfig(cfg.Session)
	return a, nil
}

// Execute runs one command given as arguments, e.g. []string{"start", "3"}.
// Sessions started by it live until ctx is cancelled or stopped.
func (a *App) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	root := a.newRootCmd()
	root.SetArgs(args)
	out := a.output()
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

// LoadPositions reads the stored positions into the controller and returns
// the steps still missing
func (a *App) LoadPositions() ([]string, error) {
	if a.positions == nil {
		return nil, errors.New("no position store configured")
	}
	p, err := a.positions.Load()
	if err != nil {
		a.events.OnLog(fmt.Sprintf("Failed to load positions: %v", err), core.SeverityWarning)
		return nil, err
	}
	a.controller.SetPositions(p)
	return p.Missing(), nil
}

func (a *App) config() *core.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) setConfig(cfg *core.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.controller.SetConfig(cfg.Session)
}

func (a *App) setOutput(w io.Writer) {
	a.outMu.Lock()
	a.out = w
	a.outMu.Unlock()
}

func (a *App) output() io.Writer {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return a.out
}

func (a *App) printf(format string, args ...interface{}) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
