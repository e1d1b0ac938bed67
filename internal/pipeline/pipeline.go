// Package pipeline runs the per-frame detection loop: landmarks, classification,
// debouncing, event logging and display fan-out.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/alert"
	"github.com/dj-oyu/driver-monitor/internal/capture"
	"github.com/dj-oyu/driver-monitor/internal/classify"
	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/metrics"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Config wires the collaborators of a pipeline
type Config struct {
	Source     FrameSource
	Landmarks  LandmarkExtractor
	Phone      PhoneDetector // optional; nil means never present
	Classifier *classify.Classifier
	Session    *session.Session
	Alarm      alert.Alarm // optional
	Annotator  Annotator   // optional
	Displays   []Display
	Dispatcher *Dispatcher // optional
	Metrics    *metrics.Metrics

	// Clock returns the wall-clock time for the debouncer and the log.
	// When FrameTime is set the frame's own timestamp is used instead
	// (deterministic replays).
	Clock     func() time.Time
	FrameTime bool
}

// Pipeline is the single-threaded frame loop
type Pipeline struct {
	cfg Config
}

// New validates the configuration and creates a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Landmarks == nil {
		return nil, errors.New("pipeline: landmark extractor is required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("pipeline: session is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Pipeline{cfg: cfg}, nil
}

// Session returns the session the pipeline writes to
func (p *Pipeline) Session() *session.Session {
	return p.cfg.Session
}

// Run processes frames until end of stream (returns nil) or until ctx is
// cancelled (returns ctx.Err()). Cancellation is checked between frames.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.Source == nil {
		return errors.New("pipeline: no frame source")
	}

	logger.Info("Pipeline", "Session %s started", p.cfg.Session.ID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := p.cfg.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				logger.Info("Pipeline", "End of stream after %d frames", p.cfg.Metrics.FramesRead.Load())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// An unreadable frame ends the run like end of stream
			p.cfg.Metrics.ReadErrors.Add(1)
			logger.Warn("Pipeline", "Frame read failed, stopping: %v", err)
			return nil
		}
		if frame == nil {
			continue
		}

		p.cfg.Metrics.FramesRead.Add(1)
		p.Step(ctx, frame)
	}
}

// Step processes one frame and returns its status and the entries that
// were appended to the event log.
func (p *Pipeline) Step(ctx context.Context, frame *types.Frame) (types.FrameStatus, []eventlog.Entry) {
	start := time.Now()
	now := p.cfg.Clock()
	if p.cfg.FrameTime && !frame.Timestamp.IsZero() {
		now = frame.Timestamp
	}
	sess := p.cfg.Session
	m := p.cfg.Metrics

	faces, err := p.cfg.Landmarks.Landmarks(ctx, frame)
	if err != nil {
		m.LandmarkErrors.Add(1)
		logger.Warn("Pipeline", "Landmark extraction failed on frame %d: %v", frame.FrameNum, err)
		faces = nil
	}
	sig := p.cfg.Classifier.Frame(faces)
	if sig.Faces == 0 {
		m.FramesNoFace.Add(1)
	}

	phone := false
	if p.cfg.Phone != nil {
		phone, err = p.cfg.Phone.PhonePresent(ctx, frame)
		if err != nil {
			m.PhoneErrors.Add(1)
			logger.Warn("Pipeline", "Phone detection failed on frame %d: %v", frame.FrameNum, err)
			phone = false
		}
	}

	status := types.FrameStatus{
		FrameNum:      frame.FrameNum,
		Timestamp:     now,
		Faces:         sig.Faces,
		EAR:           sig.EAR,
		MouthDistance: sig.MouthDistance,
		Drowsy:        sig.Drowsy,
		Yawning:       sig.Yawning,
		Phone:         phone,
	}

	for _, kind := range sess.Alerts.UpdateAll(status, now) {
		m.AlarmTriggered(kind)
		logger.Info("Pipeline", "%s alarm triggered", kind)
		if p.cfg.Alarm != nil {
			p.cfg.Alarm.Trigger(kind)
		}
	}

	var logged []eventlog.Entry
	for _, kind := range types.AllKinds {
		if !status.Detected(kind) {
			continue
		}
		e, ok := sess.Events.Record(eventlog.NewDetail(kind, sig.EAR), now)
		if !ok {
			m.EventsSuppressed.Add(1)
			continue
		}
		m.EventLogged(kind)
		logged = append(logged, e)
	}

	status.Timers = sess.Alerts.Snapshot()
	m.SetActive(status)

	if p.cfg.Annotator != nil && frame.Image != nil {
		p.cfg.Annotator.Annotate(frame, status)
	}
	for _, d := range p.cfg.Displays {
		d.Show(frame, status)
	}
	if p.cfg.Dispatcher != nil {
		for _, e := range logged {
			p.cfg.Dispatcher.Publish(sess.ID, e)
		}
	}

	m.FramesProcessed.Add(1)
	m.UpdateProcessLatency(time.Since(start))
	if !frame.Timestamp.IsZero() {
		m.UpdateFrameLatency(frame.Timestamp)
	}

	return status, logged
}
