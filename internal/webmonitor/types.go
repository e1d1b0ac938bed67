package webmonitor

import "github.com/dj-oyu/driver-monitor/pkg/types"

// MonitorStats is the "monitor" object of the status payload.
type MonitorStats struct {
	FramesShown  uint64  `json:"frames_shown"`
	CurrentFPS   float64 `json:"current_fps"`
	EventsLogged int     `json:"events_logged"`
	Subscribers  int     `json:"subscribers"`
	UptimeSec    float64 `json:"uptime_sec"`
}

// SessionInfo identifies the monitoring session being displayed.
type SessionInfo struct {
	ID        string  `json:"id"`
	Source    string  `json:"source,omitempty"`
	StartedAt float64 `json:"started_at"`
}

// StatusPayload is served by /api/status and /api/status/stream.
type StatusPayload struct {
	Status    types.FrameStatus `json:"status"`
	Monitor   MonitorStats      `json:"monitor"`
	Session   *SessionInfo      `json:"session,omitempty"`
	Counts    map[string]int    `json:"counts"`
	Timestamp float64           `json:"timestamp"`
}
