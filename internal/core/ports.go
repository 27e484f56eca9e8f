package core

import (
	"context"
	"time"
)

// ActuatorPort performs the physical part of a step
type ActuatorPort interface {
	// MoveAndClick moves the pointer to the target and clicks once
	MoveAndClick(ctx context.Context, target Point) error
}

// PositionCapturer records where the user clicks
type PositionCapturer interface {
	// CapturePosition blocks until the user clicks and returns the coordinate
	CapturePosition(ctx context.Context, label string) (Point, error)
}

// PositionStorePort persists the captured send positions
type PositionStorePort interface {
	Load() (Positions, error)
	Save(positions Positions) error
	Clear() error
}

// StatsRepositoryPort defines the interface for statistics persistence
type StatsRepositoryPort interface {
	// LoadLifetime returns the lifetime row, zero valued when none is stored
	LoadLifetime(ctx context.Context) (*LifetimeStats, error)

	// SaveSession stores the lifetime row and appends the session history entry
	// in one transaction
	SaveSession(ctx context.Context, lifetime *LifetimeStats, record *SessionRecord) error

	// ResetLifetime clears the lifetime row
	ResetLifetime(ctx context.Context) error

	// RecentSessions returns the newest history entries first
	RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// SessionsBetween returns history entries started in [start, end]
	SessionsBetween(ctx context.Context, start, end time.Time) ([]*SessionRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Severity classifies log events delivered to an EventSink
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// EventSink receives fire-and-forget notifications from the controller.
// Implementations must not block.
type EventSink interface {
	OnLog(message string, severity Severity)
	OnStatusChanged(text string)
	OnStatisticsChanged()
}
