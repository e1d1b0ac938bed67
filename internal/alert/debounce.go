// Package alert converts noisy per-frame detections into debounced,
// periodically repeating alarm decisions.
package alert

import (
	"time"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// DefaultRepeatInterval is how long a condition must stay continuously
// detected before the alarm fires again
const DefaultRepeatInterval = 4 * time.Second

// Alarm is the side effect triggered when a timer decides to fire.
// Implementations must return without blocking the frame loop.
type Alarm interface {
	Trigger(kind types.AlertKind)
}

// AlarmFunc adapts a function to the Alarm interface
type AlarmFunc func(kind types.AlertKind)

// Trigger calls f(kind)
func (f AlarmFunc) Trigger(kind types.AlertKind) { f(kind) }

// Timer is the per-kind debounce state.
//
// While idle, start is zero. While active, start holds the beginning of the
// current repeat window and is cleared on the first frame without detection.
type Timer struct {
	start      time.Time
	active     bool
	alarmFired bool
	interval   time.Duration
}

// NewTimer creates an idle timer with the given repeat interval
func NewTimer(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultRepeatInterval
	}
	return &Timer{interval: interval}
}

// Update advances the state machine by one frame and reports whether the
// alarm must be triggered for this frame.
//
//	IDLE   + !detected -> IDLE
//	IDLE   +  detected -> ACTIVE, fire
//	ACTIVE + !detected -> IDLE
//	ACTIVE +  detected -> fire and restart window if !fired or window elapsed
func (t *Timer) Update(detected bool, now time.Time) bool {
	if !detected {
		t.start = time.Time{}
		t.active = false
		t.alarmFired = false
		return false
	}

	if !t.active {
		t.active = true
		t.start = now
		t.alarmFired = true
		return true
	}

	if !t.alarmFired || now.Sub(t.start) >= t.interval {
		t.alarmFired = true
		t.start = now
		return true
	}

	return false
}

// Active reports whether the condition has been continuously detected
func (t *Timer) Active() bool {
	return t.active
}

// StartTime returns the start of the current repeat window, if active
func (t *Timer) StartTime() (time.Time, bool) {
	return t.start, t.active
}

// AlarmFired reports whether the alarm has fired in the current window
func (t *Timer) AlarmFired() bool {
	return t.alarmFired
}

// Reset forces the timer back to idle
func (t *Timer) Reset() {
	t.start = time.Time{}
	t.active = false
	t.alarmFired = false
}
