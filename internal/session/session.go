// Package session holds the mutable state of one monitoring run.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/driver-monitor/internal/alert"
	"github.com/dj-oyu/driver-monitor/internal/eventlog"
)

// Config tunes the session state machines
type Config struct {
	RepeatInterval time.Duration
	DedupWindow    time.Duration
	DedupMode      eventlog.DedupMode
	Source         string // free-form description of the frame source
}

// DefaultConfig returns the stock session settings
func DefaultConfig() Config {
	return Config{
		RepeatInterval: alert.DefaultRepeatInterval,
		DedupWindow:    eventlog.DefaultWindow,
		DedupMode:      eventlog.DedupGlobal,
	}
}

// Session owns the alert timers and the event log for one run. Alerts is
// touched only by the frame loop; Events is safe for concurrent readers.
type Session struct {
	ID        string
	Source    string
	StartedAt time.Time

	Alerts *alert.Tracker
	Events *eventlog.Log

	mu      sync.Mutex
	endedAt time.Time
}

// New starts a session at now
func New(cfg Config, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Source:    cfg.Source,
		StartedAt: now,
		Alerts:    alert.NewTracker(cfg.RepeatInterval),
		Events:    eventlog.New(cfg.DedupWindow, cfg.DedupMode),
	}
}

// End marks the session finished. Only the first call has an effect.
func (s *Session) End(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = now
	}
}

// EndedAt returns the end time, if the session has ended
func (s *Session) EndedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, !s.endedAt.IsZero()
}

// Duration returns the elapsed time until now or until the end
func (s *Session) Duration(now time.Time) time.Duration {
	if end, ok := s.EndedAt(); ok {
		return end.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
