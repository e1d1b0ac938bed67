package alert

import (
	"time"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Tracker owns one timer per alert kind. It is driven by a single
// goroutine (the frame loop) and is not safe for concurrent use.
type Tracker struct {
	timers [types.NumKinds]*Timer
}

// NewTracker creates idle timers for every alert kind
func NewTracker(interval time.Duration) *Tracker {
	tr := &Tracker{}
	for i := range tr.timers {
		tr.timers[i] = NewTimer(interval)
	}
	return tr
}

// Update advances the timer for kind and reports whether to fire
func (tr *Tracker) Update(kind types.AlertKind, detected bool, now time.Time) bool {
	if !kind.Valid() {
		return false
	}
	return tr.timers[kind].Update(detected, now)
}

// UpdateAll advances every timer from a frame status and returns the kinds
// that must fire, in evaluation order
func (tr *Tracker) UpdateAll(status types.FrameStatus, now time.Time) []types.AlertKind {
	var fire []types.AlertKind
	for _, kind := range types.AllKinds {
		if tr.Update(kind, status.Detected(kind), now) {
			fire = append(fire, kind)
		}
	}
	return fire
}

// Timer returns the timer for kind
func (tr *Tracker) Timer(kind types.AlertKind) *Timer {
	if !kind.Valid() {
		return nil
	}
	return tr.timers[kind]
}

// Snapshot copies the state of every timer
func (tr *Tracker) Snapshot() []types.TimerState {
	out := make([]types.TimerState, 0, len(tr.timers))
	for _, kind := range types.AllKinds {
		t := tr.timers[kind]
		state := types.TimerState{
			Kind:       kind.String(),
			Active:     t.active,
			AlarmFired: t.alarmFired,
		}
		if t.active {
			start := t.start
			state.StartTime = &start
		}
		out = append(out, state)
	}
	return out
}
