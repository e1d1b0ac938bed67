package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

func TestSessionIsolation(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := New(DefaultConfig(), now)
	b := New(DefaultConfig(), now)

	if a.ID == b.ID {
		t.Fatalf("sessions share an id")
	}
	if _, err := uuid.Parse(a.ID); err != nil {
		t.Fatalf("id is not a uuid: %v", err)
	}

	a.Alerts.Update(types.Drowsiness, true, now)
	a.Events.Record(eventlog.Drowsiness{EAR: 0.1}, now)

	if b.Alerts.Timer(types.Drowsiness).Active() || b.Events.Len() != 0 {
		t.Fatalf("state leaked between sessions")
	}
}

func TestSessionEnd(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New(DefaultConfig(), start)

	if _, ok := s.EndedAt(); ok {
		t.Fatalf("new session should not be ended")
	}
	if d := s.Duration(start.Add(5 * time.Second)); d != 5*time.Second {
		t.Fatalf("running duration = %v", d)
	}

	s.End(start.Add(time.Minute))
	s.End(start.Add(time.Hour))

	end, ok := s.EndedAt()
	if !ok || !end.Equal(start.Add(time.Minute)) {
		t.Fatalf("end = %v, %v", end, ok)
	}
	if d := s.Duration(start.Add(24 * time.Hour)); d != time.Minute {
		t.Fatalf("ended duration = %v", d)
	}
}
