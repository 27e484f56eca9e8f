package events

import (
	"snap-automation/internal/core"

	"go.uber.org/zap"
)

// LogSink writes every notification to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// OnLog implements core.EventSink
func (s *LogSink) OnLog(message string, severity core.Severity) {
	field := zap.String("severity", severity.String())
	switch severity {
	case core.SeverityDebug:
		s.logger.Debug(message, field)
	case core.SeverityWarning:
		s.logger.Warn(message, field)
	case core.SeverityError:
		s.logger.Error(message, field)
	default:
		s.logger.Info(message, field)
	}
}

// OnStatusChanged implements core.EventSink
func (s *LogSink) OnStatusChanged(text string) {
	s.logger.Debug("Status changed", zap.String("status", text))
}

// OnStatisticsChanged implements core.EventSink
func (s *LogSink) OnStatisticsChanged() {}

// Kind identifies the notification carried by an Event
type Kind int

const (
	KindLog Kind = iota
	KindStatus
	KindStatistics
)

// Event is one notification queued by a ChannelSink
type Event struct {
	Kind     Kind
	Message  string
	Severity core.Severity
}

// ChannelSink queues notifications on a buffered channel for a consumer
// goroutine. When the buffer is full new events are dropped so the
// controller never blocks on a slow reader.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Events returns the receive side of the queue
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) offer(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// OnLog implements core.EventSink
func (s *ChannelSink) OnLog(message string, severity core.Severity) {
	s.offer(Event{Kind: KindLog, Message: message, Severity: severity})
}

// OnStatusChanged implements core.EventSink
func (s *ChannelSink) OnStatusChanged(text string) {
	s.offer(Event{Kind: KindStatus, Message: text})
}

// OnStatisticsChanged implements core.EventSink
func (s *ChannelSink) OnStatisticsChanged() {
	s.offer(Event{Kind: KindStatistics})
}
