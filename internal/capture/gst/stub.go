//go:build !gstreamer

// Package gst captures frames from a GStreamer launch pipeline through an appsink.
package gst

import (
	"context"
	"errors"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// ErrUnavailable is returned when the binary was built without GStreamer
var ErrUnavailable = errors.New("gstreamer support not compiled in (build with -tags gstreamer)")

// Source is unavailable in this build
type Source struct{}

// Open always fails without the gstreamer build tag
func Open(launch string) (*Source, error) {
	return nil, ErrUnavailable
}

// Next always fails without the gstreamer build tag
func (s *Source) Next(ctx context.Context) (*types.Frame, error) {
	return nil, ErrUnavailable
}

// Close is a no-op
func (s *Source) Close() error {
	return nil
}
