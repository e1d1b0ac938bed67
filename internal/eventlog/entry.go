// Package eventlog keeps the append-only, deduplicated record of detected
// driver events and renders it as CSV reports or JSONL.
package eventlog

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// TimeLayout is the second-granularity timestamp used in records and reports
const TimeLayout = "2006-01-02 15:04:05"

// Fixed reasons attached to non-drowsiness events
const (
	YawnReason  = "Mouth distance exceeded threshold"
	PhoneReason = "Mobile phone detected in frame"
)

// Detail is the kind-specific payload of an entry. Exactly one of
// Drowsiness, Yawning or PhoneUsage.
type Detail interface {
	Kind() types.AlertKind
	detail()
}

// Drowsiness carries the eye aspect ratio that raised the event
type Drowsiness struct {
	EAR float64
}

// Yawning carries a textual reason
type Yawning struct {
	Reason string
}

// PhoneUsage carries a textual reason
type PhoneUsage struct {
	Reason string
}

func (Drowsiness) Kind() types.AlertKind { return types.Drowsiness }
func (Yawning) Kind() types.AlertKind { return types.Yawning }
func (PhoneUsage) Kind() types.AlertKind { return types.PhoneUsage }

func (Drowsiness) detail() {}
func (Yawning) detail() {}
func (PhoneUsage) detail() {}

// NewDetail builds the stock payload for kind. ear is used only for drowsiness.
func NewDetail(kind types.AlertKind, ear float64) Detail {
	switch kind {
	case types.Drowsiness:
		return Drowsiness{EAR: ear}
	case types.Yawning:
		return Yawning{Reason: YawnReason}
	case types.PhoneUsage:
		return PhoneUsage{Reason: PhoneReason}
	}
	return nil
}

// Entry is one logged event
type Entry struct {
	Timestamp time.Time
	Detail    Detail
}

// Kind returns the alert kind of the entry
func (e Entry) Kind() types.AlertKind {
	return e.Detail.Kind()
}

// EventType returns the report label (Drowsiness, Yawning, Phone Usage)
func (e Entry) EventType() string {
	return e.Kind().EventType()
}

// EAR returns the rounded eye aspect ratio for drowsiness entries
func (e Entry) EAR() (float64, bool) {
	if d, ok := e.Detail.(Drowsiness); ok {
		return RoundEAR(d.EAR), true
	}
	return 0, false
}

// Details returns the textual reason for yawning and phone entries
func (e Entry) Details() string {
	switch d := e.Detail.(type) {
	case Yawning:
		return d.Reason
	case PhoneUsage:
		return d.Reason
	}
	return ""
}

// RoundEAR rounds to three decimals
func RoundEAR(v float64) float64 {
	return math.Round(v*1000) / 1000
}

type record struct {
	Timestamp string   `json:"timestamp"`
	EventType string   `json:"event_type"`
	EARValue  *float64 `json:"ear_value,omitempty"`
	Details   string   `json:"details,omitempty"`
}

// MarshalJSON encodes the entry as a flat record
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Detail == nil {
		return nil, fmt.Errorf("entry has no detail")
	}
	rec := record{
		Timestamp: e.Timestamp.Format(TimeLayout),
		EventType: e.EventType(),
		Details:   e.Details(),
	}
	if ear, ok := e.EAR(); ok {
		rec.EARValue = &ear
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes a flat record. Timestamps are read in local time.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	kind, err := types.ParseAlertKind(rec.EventType)
	if err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimeLayout, rec.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}

	e.Timestamp = ts
	switch kind {
	case types.Drowsiness:
		var ear float64
		if rec.EARValue != nil {
			ear = *rec.EARValue
		}
		e.Detail = Drowsiness{EAR: ear}
	case types.Yawning:
		e.Detail = Yawning{Reason: rec.Details}
	case types.PhoneUsage:
		e.Detail = PhoneUsage{Reason: rec.Details}
	}
	return nil
}
