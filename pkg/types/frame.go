package types

import (
	"image"
	"time"
)

// Frame represents a decoded video frame with metadata
type Frame struct {
	Image     *image.RGBA // Decoded pixels (owned by the frame)
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number
	Width     int         // Frame width
	Height    int         // Frame height
}

// NewFrame wraps an RGBA image into a frame
func NewFrame(img *image.RGBA, frameNum uint64, ts time.Time) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:     img,
		Timestamp: ts,
		FrameNum:  frameNum,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}

// Point is a 2D landmark coordinate in frame pixel units
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// LandmarkSet is one face mesh; the slice index is the landmark id
type LandmarkSet []Point

// FrameStatus is the per-frame output forwarded to the display layer
type FrameStatus struct {
	FrameNum      uint64    `json:"frame_number"`
	Timestamp     time.Time `json:"timestamp"`
	Faces         int       `json:"faces"`
	EAR           float64   `json:"ear"`
	MouthDistance float64   `json:"mouth_distance"`
	Drowsy        bool      `json:"drowsy"`
	Yawning       bool      `json:"yawning"`
	Phone         bool      `json:"phone"`

	Timers []TimerState `json:"timers,omitempty"`
}

// TimerState is a read-only copy of one alert timer
type TimerState struct {
	Kind       string     `json:"kind"`
	Active     bool       `json:"active"`
	StartTime  *time.Time `json:"start_time"`
	AlarmFired bool       `json:"alarm_fired"`
}

// Detected reports the flag for the given alert kind
func (s FrameStatus) Detected(kind AlertKind) bool {
	switch kind {
	case Drowsiness:
		return s.Drowsy
	case Yawning:
		return s.Yawning
	case PhoneUsage:
		return s.Phone
	}
	return false
}

// AnyAlert returns true if any of the three flags is raised
func (s FrameStatus) AnyAlert() bool {
	return s.Drowsy || s.Yawning || s.Phone
}
