package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"snap-automation/internal/core"
	"snap-automation/internal/stealth"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned when the page has not been opened yet
var ErrNotInitialized = errors.New("browser not initialized")

// captureScript resolves with the page coordinates of the next click
const captureScript = `(label) => new Promise((resolve) => {
	document.title = 'Click: ' + label;
	document.addEventListener('click', (e) => {
		resolve({ x: Math.round(e.clientX), y: Math.round(e.clientY) });
	}, { once: true, capture: true });
})`

// Instance drives a stealth Chrome page. It implements core.ActuatorPort by
// dispatching trusted CDP mouse events, and core.PositionCapturer by waiting
// for the user's next click on the page.
type Instance struct {
	config *core.BrowserConfig
	mouse  *stealth.Mouse
	jitter *stealth.Jitter
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	pointer core.Point
}

// NewInstance creates a new browser instance. jitter may be shared with the
// timing policy.
func NewInstance(cfg *core.BrowserConfig, jitter *stealth.Jitter, logger *zap.Logger) *Instance {
	if jitter == nil {
		jitter = stealth.NewJitter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instance{
		config: cfg,
		mouse:  stealth.NewMouse(cfg.MouseSpeedMin, cfg.MouseSpeedMax, jitter),
		jitter: jitter,
		logger: logger,
	}
}

// Initialize launches the browser, opens a stealth page and navigates to the
// target URL
func (b *Instance) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		return nil
	}

	l := launcher.New().
		Context(ctx).
		Headless(b.config.Headless).
		Set("disable-blink-features", "AutomationControlled")

	if b.config.BinPath != "" {
		l = l.Bin(b.config.BinPath)
	} else if path, has := launcher.LookPath(); has {
		l = l.Bin(path)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := rodstealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("failed to create stealth page: %w", err)
	}

	width, height := b.config.ViewportWidth, b.config.ViewportHeight
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = browser.Close()
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := b.loadCookies(page); err != nil {
		b.logger.Warn("Failed to restore cookies, log in on the page", zap.Error(err))
	}

	if b.config.TargetURL != "" {
		if err := page.Context(ctx).Navigate(b.config.TargetURL); err != nil {
			_ = browser.Close()
			return fmt.Errorf("failed to navigate to %s: %w", b.config.TargetURL, err)
		}
		if err := page.Context(ctx).WaitLoad(); err != nil {
			b.logger.Debug("Page load did not settle", zap.Error(err))
		}
	}

	b.browser = browser
	b.page = page
	b.pointer = core.Point{X: width / 2, Y: height / 2}

	b.logger.Info("Browser initialized",
		zap.String("url", b.config.TargetURL),
		zap.Int("width", width),
		zap.Int("height", height),
	)
	return nil
}

// MoveAndClick moves the pointer to target and clicks once
func (b *Instance) MoveAndClick(ctx context.Context, target core.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page == nil {
		return ErrNotInitialized
	}
	page := b.page.Context(ctx)

	if b.config.MoveSteps {
		for _, p := range b.mouse.Path(b.pointer, target) {
			err := proto.InputDispatchMouseEvent{
				Type: proto.InputDispatchMouseEventTypeMouseMoved,
				X:    p.X,
				Y:    p.Y,
			}.Call(page)
			if err != nil {
				return fmt.Errorf("failed to move mouse: %w", err)
			}

			// ~60fps with 5-15ms of variation
			b.jitter.RandomSleepRange(ctx, 0.005, 0.015)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	b.pointer = target

	x, y := float64(target.X), float64(target.Y)
	err := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("failed to mouse down: %w", err)
	}

	// Human click duration
	b.jitter.RandomSleepRange(context.Background(), 0.05, 0.1)

	err = proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("failed to mouse up: %w", err)
	}
	return nil
}

// CapturePosition blocks until the user clicks on the page and returns the
// click coordinate
func (b *Instance) CapturePosition(ctx context.Context, label string) (core.Point, error) {
	b.mu.Lock()
	page := b.page
	b.mu.Unlock()

	if page == nil {
		return core.Point{}, ErrNotInitialized
	}

	res, err := page.Context(ctx).Eval(captureScript, label)
	if err != nil {
		if ctx.Err() != nil {
			return core.Point{}, ctx.Err()
		}
		return core.Point{}, fmt.Errorf("failed to capture position: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return core.Point{}, fmt.Errorf("failed to marshal click position: %w", err)
	}
	var point core.Point
	if err := json.Unmarshal(raw, &point); err != nil {
		return core.Point{}, fmt.Errorf("failed to parse click position: %w", err)
	}

	b.logger.Debug("Position captured", zap.String("label", label), zap.Stringer("point", point))
	return point, nil
}

// Ready reports whether a page is open
func (b *Instance) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page != nil
}

// Close closes the browser instance
func (b *Instance) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	if err := b.saveCookies(b.page); err != nil {
		b.logger.Warn("Failed to save cookies", zap.Error(err))
	}
	err := b.browser.Close()
	b.browser = nil
	b.page = nil
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}

	b.logger.Info("Browser closed")
	return nil
}

// loadCookies restores the cookies saved by the previous run, if any
func (b *Instance) loadCookies(page *rod.Page) error {
	path := b.config.CookiesPath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read cookies file: %w", err)
	}

	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("failed to unmarshal cookies: %w", err)
	}
	if err := page.SetCookies(proto.CookiesToParams(cookies)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}

	b.logger.Info("Cookies loaded", zap.String("path", path), zap.Int("count", len(cookies)))
	return nil
}

// saveCookies writes the page cookies so the next run stays logged in
func (b *Instance) saveCookies(page *rod.Page) error {
	path := b.config.CookiesPath
	if path == "" || page == nil {
		return nil
	}
	cookies, err := page.Cookies([]string{})
	if err != nil {
		return fmt.Errorf("failed to get cookies: %w", err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookies directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookies file: %w", err)
	}
	return nil
}

// holdFor is a coarse wait used between captured positions
func holdFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CaptureAll walks the user through every required step in order, pausing
// delay between captures. It returns the positions captured so far on error.
func CaptureAll(ctx context.Context, capturer core.PositionCapturer, delay time.Duration, progress func(step string, p core.Point)) (core.Positions, error) {
	positions := make(core.Positions, len(core.RequiredSteps))
	for i, step := range core.RequiredSteps {
		if i > 0 {
			if err := holdFor(ctx, delay); err != nil {
				return positions, err
			}
		}
		p, err := capturer.CapturePosition(ctx, core.StepDescriptions[step])
		if err != nil {
			return positions, fmt.Errorf("capture %s: %w", step, err)
		}
		positions[step] = p
		if progress != nil {
			progress(step, p)
		}
	}
	return positions, nil
}
