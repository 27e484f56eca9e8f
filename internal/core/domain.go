package core

import (
	"fmt"
	"time"
)

// Step names of the send sequence. Each one must have a captured position
// before a session can start.
const (
	StepCamera    = "camera"
	StepSendTo    = "send_to"
	StepShortcut  = "shortcut"
	StepSelectAll = "select_all"
)

// RequiredSteps lists the positions a complete configuration must contain,
// in the order they are captured.
var RequiredSteps = []string{StepCamera, StepSendTo, StepShortcut, StepSelectAll}

// StepDescriptions are the human labels shown while capturing positions
var StepDescriptions = map[string]string{
	StepCamera:    "Camera button",
	StepSendTo:    "Send to button",
	StepShortcut:  "Shortcut button",
	StepSelectAll: "Select All button",
}

// SendSequence is the fixed order of clicks that makes up one cycle.
// send_to appears twice: once to open the recipient list, once to send.
var SendSequence = []string{StepCamera, StepSendTo, StepShortcut, StepSelectAll, StepSendTo}

// DefaultSafeModeFactor scales click and loop delays when safe mode is on
const DefaultSafeModeFactor = 1.3

// Point is a screen (or page) coordinate in pixels
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String implements fmt.Stringer
func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// Add returns p shifted by (dx, dy)
func (p Point) Add(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Positions maps a step name to its captured coordinate
type Positions map[string]Point

// Complete reports whether every required step has a position
func (p Positions) Complete() bool {
	return len(p.Missing()) == 0
}

// Missing returns the required steps that have no position, in capture order
func (p Positions) Missing() []string {
	var missing []string
	for _, step := range RequiredSteps {
		if _, ok := p[step]; !ok {
			missing = append(missing, step)
		}
	}
	return missing
}

// Clone returns an independent copy
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SessionConfig holds the tunable parameters of a session. A copy is taken at
// Start and never changes while the session runs.
type SessionConfig struct {
	ClickDelay float64 `mapstructure:"click_delay"` // Seconds after each click
	LoopDelay  float64 `mapstructure:"loop_delay"`  // Seconds between cycles

	RandomDelayEnabled bool    `mapstructure:"random_delay_enabled"`
	RandomMin          float64 `mapstructure:"random_min"` // Seconds
	RandomMax          float64 `mapstructure:"random_max"` // Seconds

	SafeModeEnabled bool    `mapstructure:"safe_mode_enabled"`
	SafeModeFactor  float64 `mapstructure:"safe_mode_factor"` // Must be > 1

	ScheduleDelaySeconds float64 `mapstructure:"schedule_delay_seconds"`
	RampUpMinutes        float64 `mapstructure:"ramp_up_minutes"`

	CooldownEnabled         bool    `mapstructure:"cooldown_enabled"`
	CooldownAfter           int     `mapstructure:"cooldown_after"` // Consecutive successful cycles
	CooldownDurationSeconds float64 `mapstructure:"cooldown_duration_seconds"`

	AutoStopEnabled    bool `mapstructure:"auto_stop_enabled"`
	AutoStopAfterCount int  `mapstructure:"auto_stop_after_count"`

	SessionDurationMinutes float64 `mapstructure:"session_duration_minutes"` // 0 = unlimited

	JitterEnabled     bool `mapstructure:"jitter_enabled"`
	JitterRangePixels int  `mapstructure:"jitter_range_pixels"`

	PrimeFirstCycle bool    `mapstructure:"prime_first_cycle"` // Extra click on the first step of the first cycle
	PositionDelay   float64 `mapstructure:"position_delay"`    // Seconds between captured positions
}

// Normalize returns a copy with invariants enforced: no negative durations,
// RandomMax clamped up to RandomMin and a safe mode factor above one.
func (c SessionConfig) Normalize() SessionConfig {
	c.ClickDelay = nonNegative(c.ClickDelay)
	c.LoopDelay = nonNegative(c.LoopDelay)
	c.RandomMin = nonNegative(c.RandomMin)
	c.RandomMax = nonNegative(c.RandomMax)
	if c.RandomMax < c.RandomMin {
		c.RandomMax = c.RandomMin
	}
	if c.SafeModeFactor <= 1 {
		c.SafeModeFactor = DefaultSafeModeFactor
	}
	c.ScheduleDelaySeconds = nonNegative(c.ScheduleDelaySeconds)
	c.RampUpMinutes = nonNegative(c.RampUpMinutes)
	c.CooldownDurationSeconds = nonNegative(c.CooldownDurationSeconds)
	if c.CooldownAfter < 1 {
		c.CooldownEnabled = false
	}
	if c.AutoStopAfterCount < 1 {
		c.AutoStopEnabled = false
	}
	c.SessionDurationMinutes = nonNegative(c.SessionDurationMinutes)
	if c.JitterRangePixels < 0 {
		c.JitterRangePixels = 0
	}
	c.PositionDelay = nonNegative(c.PositionDelay)
	return c
}

// ScheduleDelay is the one-time wait before the session begins
func (c SessionConfig) ScheduleDelay() time.Duration {
	return Seconds(c.ScheduleDelaySeconds)
}

// RampUp is the one-time warm-up wait before the first cycle
func (c SessionConfig) RampUp() time.Duration {
	return Seconds(c.RampUpMinutes * 60)
}

// CooldownDuration is the pause inserted after CooldownAfter successes
func (c SessionConfig) CooldownDuration() time.Duration {
	return Seconds(c.CooldownDurationSeconds)
}

// SessionLimit is the maximum session length, zero when unlimited
func (c SessionConfig) SessionLimit() time.Duration {
	return Seconds(c.SessionDurationMinutes * 60)
}

// Seconds converts fractional seconds to a Duration
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// SessionState is the lifecycle phase of the controller
type SessionState string

// Controller states.
const (
	StateIdle        SessionState = "idle"
	StateScheduled   SessionState = "scheduled"
	StateRampingUp   SessionState = "ramping_up"
	StateRunning     SessionState = "running"
	StatePaused      SessionState = "paused"
	StateCoolingDown SessionState = "cooling_down"
	StateStopping    SessionState = "stopping"
)

// Active reports whether a session is in progress
func (s SessionState) Active() bool {
	return s != StateIdle
}

// SessionSummary describes a finished session
type SessionSummary struct {
	Count     int           `json:"count"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
}

// StatisticsSnapshot is an immutable copy of the session and lifetime counters
type StatisticsSnapshot struct {
	LifetimeCount int64 `json:"lifetime_count"`
	LongestStreak int   `json:"longest_streak"`

	SessionActive     bool      `json:"session_active"`
	SessionCount      int       `json:"session_count"`
	SessionErrorCount int       `json:"session_error_count"`
	CurrentStreak     int       `json:"current_streak"`
	CooldownStreak    int       `json:"cooldown_streak"` // Successes since the last cooldown
	SessionStartTime  time.Time `json:"session_start_time"`

	LastSession *SessionSummary `json:"last_session,omitempty"`
}

// SuccessRate returns the percentage of successful cycles in the session
func (s StatisticsSnapshot) SuccessRate() float64 {
	total := s.SessionCount + s.SessionErrorCount
	if total == 0 {
		return 0
	}
	return float64(s.SessionCount) / float64(total) * 100
}

// Elapsed returns how long the current session has been running
func (s StatisticsSnapshot) Elapsed(now time.Time) time.Duration {
	if s.SessionStartTime.IsZero() {
		return 0
	}
	return now.Sub(s.SessionStartTime)
}

// LifetimeStats is the persisted lifetime record (single row)
type LifetimeStats struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	LifetimeCount       int64     `gorm:"not null;default:0" json:"lifetime_count"`
	LongestStreak       int       `gorm:"not null;default:0" json:"longest_streak"`
	LastSessionAt       time.Time `json:"last_session_at"`
	LastSessionCount    int       `json:"last_session_count"`
	LastSessionDuration int64     `json:"last_session_duration"` // Seconds
	UpdatedAt           time.Time `json:"updated_at"`
}

// SessionRecord is one finished session in the history table
type SessionRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	StartedAt      time.Time `gorm:"index;not null" json:"started_at"`
	EndedAt        time.Time `gorm:"not null" json:"ended_at"`
	Count          int       `json:"count"`
	Errors         int       `json:"errors"`
	RecipientCount int       `json:"recipient_count"`
	LongestStreak  int       `json:"longest_streak"`
	Reason         string    `gorm:"type:text" json:"reason"`
}

// BrowserConfig holds the settings of the page the actuator drives
type BrowserConfig struct {
	TargetURL      string  `mapstructure:"target_url"`
	Headless       bool    `mapstructure:"headless"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
	BinPath        string  `mapstructure:"bin_path"`   // Empty uses launcher lookup
	MoveSteps      bool    `mapstructure:"move_steps"` // Curve the pointer instead of jumping
	MouseSpeedMin  float64 `mapstructure:"mouse_speed_min"`
	MouseSpeedMax  float64 `mapstructure:"mouse_speed_max"`
	CookiesPath    string  `mapstructure:"cookies_path"` // Keeps the page login between runs; empty disables
}

// Config represents the application configuration
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Browser BrowserConfig `mapstructure:"browser"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Positions struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"positions"`

	Logging struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
}
