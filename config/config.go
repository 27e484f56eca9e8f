package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"snap-automation/internal/core"
)

// EnvPrefix prefixes environment overrides, e.g. SNAP_BOT_SESSION_LOOP_DELAY
const EnvPrefix = "SNAP_BOT"

// DefaultPath is where the console saves configuration when no file was loaded
const DefaultPath = "config.yaml"

// Manager loads and saves the configuration through its own viper instance,
// so the console can reload or save it any number of times.
type Manager struct {
	v    *viper.Viper
	path string
}

// NewManager creates a manager with every default set. An empty path searches
// for config.yaml in the working directory and ./config.
func NewManager(path string) *Manager {
	return &Manager{v: newViper(path), path: path}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and environment into a core.Config.
// A missing file is not an error; defaults and environment apply.
// Values changed by Set or Save are dropped in favour of the file.
func (m *Manager) Load() (*core.Config, error) {
	// viper overrides outrank the file, so every load starts clean
	v := newViper(m.path)
	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(m.path != "" && os.IsNotExist(err)) {
			return nil, &core.PersistenceError{Op: "load", What: "config", Path: m.path, Err: err}
		}
	} else {
		used = v.ConfigFileUsed()
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if used != "" {
		m.path = used
	}
	m.v = v
	return cfg, nil
}

// LoadOrDefault behaves like Load but never fails: on error it returns the
// defaults together with the error so the caller can report it.
func (m *Manager) LoadOrDefault() (*core.Config, error) {
	cfg, err := m.Load()
	if err == nil {
		return cfg, nil
	}
	return Defaults(), err
}

// Save writes cfg as YAML. An empty path saves to the file that was loaded,
// or DefaultPath when none was.
func (m *Manager) Save(path string, cfg *core.Config) error {
	if path == "" {
		path = m.Path()
	}
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	apply(m.v, cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &core.PersistenceError{Op: "save", What: "config", Path: path, Err: err}
		}
	}
	if err := m.v.WriteConfigAs(path); err != nil {
		return &core.PersistenceError{Op: "save", What: "config", Path: path, Err: err}
	}
	m.path = path
	return nil
}

// Set changes one key (e.g. "session.loop_delay") and returns the decoded,
// validated result. The change is kept in memory until Save.
func (m *Manager) Set(key, value string) (*core.Config, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if !m.isKnown(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}

	prev := m.v.Get(key)
	m.v.Set(key, value)
	cfg, err := m.decode()
	if err == nil {
		err = validateConfig(cfg)
	}
	if err != nil {
		m.v.Set(key, prev)
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return cfg, nil
}

// Keys returns every known key in sorted order
func (m *Manager) Keys() []string {
	keys := m.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Get returns the current value of key
func (m *Manager) Get(key string) interface{} {
	return m.v.Get(key)
}

// Path returns the file the configuration was loaded from or saved to
func (m *Manager) Path() string {
	if m.path == "" {
		return DefaultPath
	}
	return m.path
}

func (m *Manager) isKnown(key string) bool {
	for _, k := range m.v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func (m *Manager) decode() (*core.Config, error) {
	return decode(m.v)
}

func decode(v *viper.Viper) (*core.Config, error) {
	cfg := &core.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Session = cfg.Session.Normalize()
	return cfg, nil
}

// Defaults returns the built-in configuration
func Defaults() *core.Config {
	v := viper.New()
	setDefaults(v)
	cfg := &core.Config{}
	// Defaults always decode; a failure here is a programming error.
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Session = cfg.Session.Normalize()
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Timing (seconds unless noted)
	v.SetDefault("session.click_delay", 1.2)
	v.SetDefault("session.loop_delay", 5.0)
	v.SetDefault("session.random_delay_enabled", false)
	v.SetDefault("session.random_min", 3.0)
	v.SetDefault("session.random_max", 8.0)
	v.SetDefault("session.safe_mode_enabled", false)
	v.SetDefault("session.safe_mode_factor", core.DefaultSafeModeFactor)
	v.SetDefault("session.schedule_delay_seconds", 0.0)
	v.SetDefault("session.ramp_up_minutes", 0.0)
	v.SetDefault("session.position_delay", 0.5)

	// Limits
	v.SetDefault("session.cooldown_enabled", false)
	v.SetDefault("session.cooldown_after", 50)
	v.SetDefault("session.cooldown_duration_seconds", 60.0)
	v.SetDefault("session.auto_stop_enabled", false)
	v.SetDefault("session.auto_stop_after_count", 100)
	v.SetDefault("session.session_duration_minutes", 0.0)

	// Humanisation
	v.SetDefault("session.jitter_enabled", false)
	v.SetDefault("session.jitter_range_pixels", 3)
	v.SetDefault("session.prime_first_cycle", true)

	// Browser
	v.SetDefault("browser.target_url", "https://web.snapchat.com")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.bin_path", "")
	v.SetDefault("browser.move_steps", true)
	v.SetDefault("browser.mouse_speed_min", 0.5)
	v.SetDefault("browser.mouse_speed_max", 1.5)
	v.SetDefault("browser.cookies_path", "data/cookies.json")

	// Storage
	v.SetDefault("database.path", "data/stats.db")
	v.SetDefault("positions.path", "data/positions.json")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// apply copies cfg into v so WriteConfigAs persists every field
func apply(v *viper.Viper, cfg *core.Config) {
	s := cfg.Session
	v.Set("session.click_delay", s.ClickDelay)
	v.Set("session.loop_delay", s.LoopDelay)
	v.Set("session.random_delay_enabled", s.RandomDelayEnabled)
	v.Set("session.random_min", s.RandomMin)
	v.Set("session.random_max", s.RandomMax)
	v.Set("session.safe_mode_enabled", s.SafeModeEnabled)
	v.Set("session.safe_mode_factor", s.SafeModeFactor)
	v.Set("session.schedule_delay_seconds", s.ScheduleDelaySeconds)
	v.Set("session.ramp_up_minutes", s.RampUpMinutes)
	v.Set("session.position_delay", s.PositionDelay)
	v.Set("session.cooldown_enabled", s.CooldownEnabled)
	v.Set("session.cooldown_after", s.CooldownAfter)
	v.Set("session.cooldown_duration_seconds", s.CooldownDurationSeconds)
	v.Set("session.auto_stop_enabled", s.AutoStopEnabled)
	v.Set("session.auto_stop_after_count", s.AutoStopAfterCount)
	v.Set("session.session_duration_minutes", s.SessionDurationMinutes)
	v.Set("session.jitter_enabled", s.JitterEnabled)
	v.Set("session.jitter_range_pixels", s.JitterRangePixels)
	v.Set("session.prime_first_cycle", s.PrimeFirstCycle)

	b := cfg.Browser
	v.Set("browser.target_url", b.TargetURL)
	v.Set("browser.headless", b.Headless)
	v.Set("browser.viewport_width", b.ViewportWidth)
	v.Set("browser.viewport_height", b.ViewportHeight)
	v.Set("browser.bin_path", b.BinPath)
	v.Set("browser.move_steps", b.MoveSteps)
	v.Set("browser.mouse_speed_min", b.MouseSpeedMin)
	v.Set("browser.mouse_speed_max", b.MouseSpeedMax)
	v.Set("browser.cookies_path", b.CookiesPath)

	v.Set("database.path", cfg.Database.Path)
	v.Set("positions.path", cfg.Positions.Path)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.json", cfg.Logging.JSON)
}

// validateConfig validates that required configuration fields are set
func validateConfig(cfg *core.Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Positions.Path == "" {
		return fmt.Errorf("positions.path is required")
	}
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d",
			cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if cfg.Browser.MouseSpeedMin <= 0 || cfg.Browser.MouseSpeedMax < cfg.Browser.MouseSpeedMin {
		return fmt.Errorf("browser mouse speed range [%.2f, %.2f] is invalid",
			cfg.Browser.MouseSpeedMin, cfg.Browser.MouseSpeedMax)
	}
	return nil
}
