//go:build gstreamer

// Package gst captures frames from a GStreamer launch pipeline through an appsink.
package gst

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/dj-oyu/driver-monitor/internal/capture"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

const pullTimeout = 100 * time.Millisecond

// Source pulls RGBA frames from "<launch> ! videoconvert ! appsink"
type Source struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	frameNum uint64
}

// Open builds and starts the pipeline. launch is any source description,
// e.g. "v4l2src device=/dev/video0" or "filesrc location=a.mp4 ! decodebin".
func Open(launch string) (*Source, error) {
	gst.Init(nil)

	desc := fmt.Sprintf("%s ! videoconvert ! video/x-raw,format=RGBA ! appsink name=sink", launch)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1) // Keep only latest frame
	sink.SetProperty("drop", true)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	logger.Info("Capture", "GStreamer pipeline playing: %s", launch)
	return &Source{pipeline: pipeline, sink: sink}, nil
}

// Next pulls the next sample, returning capture.ErrEndOfStream at EOS
func (s *Source) Next(ctx context.Context) (*types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.sink.IsEOS() {
			return nil, capture.ErrEndOfStream
		}

		sample := s.sink.TryPullSample(pullTimeout)
		if sample == nil {
			continue
		}

		frame, err := s.toFrame(sample)
		if err != nil {
			logger.Warn("Capture", "Skipping sample: %v", err)
			continue
		}
		return frame, nil
	}
}

func (s *Source) toFrame(sample *gst.Sample) (*types.Frame, error) {
	st := sample.GetCaps().GetStructureAt(0)
	w, err := st.GetValue("width")
	if err != nil {
		return nil, err
	}
	h, err := st.GetValue("height")
	if err != nil {
		return nil, err
	}
	width, _ := w.(int)
	height, _ := h.(int)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid caps size %vx%v", w, h)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("sample without buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < width*height*4 {
		buffer.Unmap()
		return nil, fmt.Errorf("short buffer: %d bytes for %dx%d", len(data), width, height)
	}

	// GStreamer reuses the buffer
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:width*height*4])
	buffer.Unmap()

	frame := types.NewFrame(img, s.frameNum, time.Now())
	s.frameNum++
	return frame, nil
}

// Close stops the pipeline
func (s *Source) Close() error {
	return s.pipeline.SetState(gst.StateNull)
}
