// Package capture provides frame sources for the monitoring loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// ErrEndOfStream is returned by a source after its last frame
var ErrEndOfStream = errors.New("end of stream")

// Source yields frames one at a time
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
}

// Spec selects a frame source, e.g. "dir:./frames", "shm:/driver_cam",
// "gst:v4l2src device=/dev/video0"
type Spec struct {
	Kind string
	Arg  string
}

// ParseSpec splits a "kind:arg" source description
func ParseSpec(s string) (Spec, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return Spec{}, fmt.Errorf("invalid source %q (want kind:arg)", s)
	}
	switch kind {
	case "dir", "shm", "gst":
		return Spec{Kind: kind, Arg: arg}, nil
	}
	return Spec{}, fmt.Errorf("unknown source kind %q", kind)
}

// String returns the "kind:arg" form
func (s Spec) String() string {
	return s.Kind + ":" + s.Arg
}

// ToRGBA returns img as *image.RGBA, converting if needed
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Mirror flips frames horizontally so the preview behaves like a mirror
type Mirror struct {
	Source Source
}

// Next reads a frame and flips it in place
func (m *Mirror) Next(ctx context.Context) (*types.Frame, error) {
	frame, err := m.Source.Next(ctx)
	if err != nil || frame == nil || frame.Image == nil {
		return frame, err
	}
	FlipHorizontal(frame.Image)
	return frame, nil
}

// FlipHorizontal mirrors img in place
func FlipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	w := b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			li, ri := l*4, r*4
			for c := 0; c < 4; c++ {
				row[li+c], row[ri+c] = row[ri+c], row[li+c]
			}
		}
	}
}
