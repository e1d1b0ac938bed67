package types

import "fmt"

// AlertKind identifies one of the monitored conditions
type AlertKind int

// Alert kinds in their fixed evaluation order
const (
	Drowsiness AlertKind = iota
	Yawning
	PhoneUsage
)

// AllKinds lists the alert kinds in evaluation order
var AllKinds = [...]AlertKind{Drowsiness, Yawning, PhoneUsage}

// NumKinds is the number of alert kinds
const NumKinds = len(AllKinds)

var kindNames = map[AlertKind]string{
	Drowsiness: "drowsiness",
	Yawning:    "yawning",
	PhoneUsage: "phone",
}

var eventTypeNames = map[AlertKind]string{
	Drowsiness: "Drowsiness",
	Yawning:    "Yawning",
	PhoneUsage: "Phone Usage",
}

// String returns the short identifier (drowsiness, yawning, phone)
func (k AlertKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EventType returns the label used in event logs and reports
func (k AlertKind) EventType() string {
	if name, ok := eventTypeNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether k is a known kind
func (k AlertKind) Valid() bool {
	return k >= Drowsiness && k <= PhoneUsage
}

// ParseAlertKind accepts either the short identifier or the event type label
func ParseAlertKind(s string) (AlertKind, error) {
	for _, k := range AllKinds {
		if s == k.String() || s == k.EventType() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown alert kind: %q", s)
}
