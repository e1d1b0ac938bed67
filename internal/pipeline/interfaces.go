package pipeline

import (
	"context"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// FrameSource yields frames until it returns capture.ErrEndOfStream
type FrameSource interface {
	Next(ctx context.Context) (*types.Frame, error)
}

// LandmarkExtractor returns zero or more face meshes in frame pixel units
type LandmarkExtractor interface {
	Landmarks(ctx context.Context, frame *types.Frame) ([]types.LandmarkSet, error)
}

// PhoneDetector reports whether a phone-like object is in the frame
type PhoneDetector interface {
	PhonePresent(ctx context.Context, frame *types.Frame) (bool, error)
}

// Annotator draws alert labels onto the frame image in place
type Annotator interface {
	Annotate(frame *types.Frame, status types.FrameStatus)
}

// Display receives every processed frame. Show is called on the frame
// loop and must not block.
type Display interface {
	Show(frame *types.Frame, status types.FrameStatus)
}

// EventSink persists or forwards logged events. Deliver runs on the
// sink's own goroutine and may block.
type EventSink interface {
	Name() string
	Deliver(sessionID string, e eventlog.Entry) error
}
