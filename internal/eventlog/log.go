package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// DefaultWindow is the dedup granularity
const DefaultWindow = time.Second

// DedupMode selects which previous entry a new one is compared against
type DedupMode string

const (
	// DedupGlobal drops an entry when the most recent entry of any kind
	// falls in the same window
	DedupGlobal DedupMode = "global"
	// DedupPerKind compares only against the most recent entry of the same kind
	DedupPerKind DedupMode = "per_kind"
)

// ParseDedupMode validates a mode string
func ParseDedupMode(s string) (DedupMode, error) {
	switch DedupMode(s) {
	case DedupGlobal, DedupPerKind:
		return DedupMode(s), nil
	case "":
		return DedupGlobal, nil
	}
	return "", fmt.Errorf("unknown dedup mode: %q", s)
}

// Log is an append-only event log. Record is called from the frame loop;
// readers may run concurrently from display goroutines.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	window  time.Duration
	mode    DedupMode

	lastAny  time.Time
	hasAny   bool
	lastKind [types.NumKinds]time.Time
	hasKind  [types.NumKinds]bool
}

// New creates an empty log. A non-positive window disables dedup.
func New(window time.Duration, mode DedupMode) *Log {
	if mode == "" {
		mode = DedupGlobal
	}
	return &Log{window: window, mode: mode}
}

func (l *Log) bucket(t time.Time) time.Time {
	if l.window <= 0 {
		return t
	}
	return t.Truncate(l.window)
}

// Record appends an entry for detail at now unless it falls in the same
// dedup window as the previous comparable entry. It reports whether the
// entry was appended.
func (l *Log) Record(detail Detail, now time.Time) (Entry, bool) {
	if detail == nil || !detail.Kind().Valid() {
		return Entry{}, false
	}
	kind := detail.Kind()
	b := l.bucket(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.window > 0 {
		switch l.mode {
		case DedupPerKind:
			if l.hasKind[kind] && l.lastKind[kind].Equal(b) {
				return Entry{}, false
			}
		default:
			if l.hasAny && l.lastAny.Equal(b) {
				return Entry{}, false
			}
		}
	}

	e := Entry{Timestamp: now, Detail: detail}
	l.entries = append(l.entries, e)
	l.lastAny, l.hasAny = b, true
	l.lastKind[kind], l.hasKind[kind] = b, true
	return e, true
}

// Entries returns a copy of every entry in insertion order
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Since returns a copy of the entries from index n onward
func (l *Log) Since(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[n:]...)
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Summary counts entries per kind
type Summary struct {
	Total  int
	ByKind [types.NumKinds]int
}

// Count returns the number of entries of kind
func (s Summary) Count(kind types.AlertKind) int {
	if !kind.Valid() {
		return 0
	}
	return s.ByKind[kind]
}

// Summarize counts entries per kind
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		if e.Detail == nil {
			continue
		}
		k := e.Kind()
		if !k.Valid() {
			continue
		}
		s.ByKind[k]++
		s.Total++
	}
	return s
}
