package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/alert"
	"github.com/dj-oyu/driver-monitor/internal/capture"
	"github.com/dj-oyu/driver-monitor/internal/classify"
	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/metrics"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)

// mesh builds a face with eye openness (EAR = open/10) and a mouth gap in pixels
func mesh(eyeOpen, mouthGap float64) types.LandmarkSet {
	lm := make(types.LandmarkSet, 468)
	setEye := func(idx [6]int, cx float64) {
		lm[idx[0]] = types.Point{X: cx - 10, Y: 100}
		lm[idx[1]] = types.Point{X: cx - 4, Y: 100 - eyeOpen}
		lm[idx[2]] = types.Point{X: cx + 4, Y: 100 - eyeOpen}
		lm[idx[3]] = types.Point{X: cx + 10, Y: 100}
		lm[idx[4]] = types.Point{X: cx + 4, Y: 100 + eyeOpen}
		lm[idx[5]] = types.Point{X: cx - 4, Y: 100 + eyeOpen}
	}
	setEye(classify.LeftEye, 160)
	setEye(classify.RightEye, 100)
	lm[classify.Mouth[0]] = types.Point{X: 128, Y: 180}
	lm[classify.Mouth[1]] = types.Point{X: 132, Y: 180}
	lm[classify.Mouth[2]] = types.Point{X: 128, Y: 180 + mouthGap}
	lm[classify.Mouth[3]] = types.Point{X: 132, Y: 180 + mouthGap}
	return lm
}

var (
	awake  = mesh(4, 5)
	drowsy = mesh(1, 5)
	yawn   = mesh(4, 40)
)

// script answers extractor calls by frame number
type script struct {
	faces map[uint64][]types.LandmarkSet
	phone map[uint64]bool
	err   map[uint64]error
}

func (s *script) Landmarks(_ context.Context, f *types.Frame) ([]types.LandmarkSet, error) {
	if err := s.err[f.FrameNum]; err != nil {
		return nil, err
	}
	return s.faces[f.FrameNum], nil
}

func (s *script) PhonePresent(_ context.Context, f *types.Frame) (bool, error) {
	return s.phone[f.FrameNum], nil
}

type sliceSource struct {
	frames []*types.Frame
	next   int
}

func (s *sliceSource) Next(ctx context.Context) (*types.Frame, error) {
	if s.next >= len(s.frames) {
		return nil, capture.ErrEndOfStream
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// frames builds n frames spaced by step starting at t0
func frames(n int, step time.Duration) []*types.Frame {
	out := make([]*types.Frame, n)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		out[i] = types.NewFrame(img, uint64(i), t0.Add(time.Duration(i)*step))
	}
	return out
}

type alarmRecorder struct {
	mu    sync.Mutex
	kinds []types.AlertKind
}

func (a *alarmRecorder) Trigger(kind types.AlertKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = append(a.kinds, kind)
}

func (a *alarmRecorder) count(kind types.AlertKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, k := range a.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type displayRecorder struct {
	statuses []types.FrameStatus
}

func (d *displayRecorder) Show(_ *types.Frame, s types.FrameStatus) {
	d.statuses = append(d.statuses, s)
}

type harness struct {
	p       *Pipeline
	src     *sliceSource
	alarm   *alarmRecorder
	display *displayRecorder
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, sc *script, fr []*types.Frame) *harness {
	t.Helper()
	h := &harness{
		src:     &sliceSource{frames: fr},
		alarm:   &alarmRecorder{},
		display: &displayRecorder{},
		metrics: metrics.New(),
	}
	p, err := New(Config{
		Source:     h.src,
		Landmarks:  sc,
		Phone:      sc,
		Classifier: classify.New(classify.DefaultThresholds()),
		Session:    session.New(session.DefaultConfig(), t0),
		Alarm:      h.alarm,
		Displays:   []Display{h.display},
		Metrics:    h.metrics,
		FrameTime:  true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p
	return h
}

func TestSustainedDrowsiness(t *testing.T) {
	sc := &script{faces: map[uint64][]types.LandmarkSet{}}
	for i := uint64(0); i < 10; i++ {
		sc.faces[i] = []types.LandmarkSet{drowsy}
	}
	h := newHarness(t, sc, frames(10, time.Second))

	if err := h.p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.alarm.count(types.Drowsiness); got != 3 {
		t.Fatalf("drowsiness alarms = %d, want 3", got)
	}
	if len(h.display.statuses) != 10 {
		t.Fatalf("displayed %d frames, want 10", len(h.display.statuses))
	}
	for i, s := range h.display.statuses {
		if !s.Drowsy || s.Yawning || s.Phone {
			t.Fatalf("frame %d status = %+v", i, s)
		}
	}

	// One entry per wall-clock second
	entries := h.p.Session().Events.Entries()
	if len(entries) != 10 {
		t.Fatalf("log entries = %d, want 10", len(entries))
	}
	if ear, ok := entries[0].EAR(); !ok || ear != 0.1 {
		t.Fatalf("first entry ear = %v", ear)
	}
}

func TestSustainedDrowsinessHighFrameRate(t *testing.T) {
	sc := &script{faces: map[uint64][]types.LandmarkSet{}}
	for i := uint64(0); i < 90; i++ {
		sc.faces[i] = []types.LandmarkSet{drowsy}
	}
	h := newHarness(t, sc, frames(90, time.Second/30))

	if err := h.p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.alarm.count(types.Drowsiness); got != 1 {
		t.Fatalf("alarms within 3s = %d, want 1", got)
	}
	if got := h.p.Session().Events.Len(); got != 3 {
		t.Fatalf("entries = %d, want 3 (one per second)", got)
	}
	if got := h.metrics.EventsSuppressed.Load(); got != 87 {
		t.Fatalf("suppressed = %d, want 87", got)
	}
}

func TestOscillatingYawn(t *testing.T) {
	sc := &script{faces: map[uint64][]types.LandmarkSet{}}
	for i := uint64(0); i < 12; i++ {
		if i%2 == 0 {
			sc.faces[i] = []types.LandmarkSet{yawn}
		} else {
			sc.faces[i] = []types.LandmarkSet{awake}
		}
	}
	h := newHarness(t, sc, frames(12, 100*time.Millisecond))
	if err := h.p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.alarm.count(types.Yawning); got != 6 {
		t.Fatalf("yawning alarms = %d, want one per rising edge (6)", got)
	}
}

func TestSingleFramePhone(t *testing.T) {
	sc := &script{phone: map[uint64]bool{1: true}}
	h := newHarness(t, sc, frames(4, 500*time.Millisecond))
	ctx := context.Background()

	var statuses []types.FrameStatus
	var logged int
	for _, f := range h.src.frames {
		s, entries := h.p.Step(ctx, f)
		statuses = append(statuses, s)
		logged += len(entries)
	}

	if got := h.alarm.count(types.PhoneUsage); got != 1 {
		t.Fatalf("phone alarms = %d, want 1", got)
	}
	if logged != 1 {
		t.Fatalf("log entries = %d, want 1", logged)
	}
	if _, active := h.p.Session().Alerts.Timer(types.PhoneUsage).StartTime(); active {
		t.Fatalf("phone timer should be cleared after the miss")
	}
	phoneTimer := statuses[2].Timers[types.PhoneUsage]
	if phoneTimer.Active || phoneTimer.StartTime != nil {
		t.Fatalf("timer snapshot on the following frame = %+v", phoneTimer)
	}
	if statuses[0].Faces != 0 || statuses[0].Drowsy || statuses[0].Yawning {
		t.Fatalf("no face must not raise face alerts: %+v", statuses[0])
	}
}

func TestLandmarkErrorCountsAsNoFace(t *testing.T) {
	sc := &script{
		faces: map[uint64][]types.LandmarkSet{0: {drowsy}},
		err:   map[uint64]error{0: errors.New("worker timeout")},
	}
	h := newHarness(t, sc, frames(1, time.Second))
	s, _ := h.p.Step(context.Background(), h.src.frames[0])

	if s.Drowsy || s.Faces != 0 {
		t.Fatalf("failed extraction should read as no face: %+v", s)
	}
	if h.metrics.LandmarkErrors.Load() != 1 || h.metrics.FramesNoFace.Load() != 1 {
		t.Fatalf("metrics not updated")
	}
}

func TestMultiFaceUnion(t *testing.T) {
	sc := &script{faces: map[uint64][]types.LandmarkSet{0: {awake, yawn}}}
	h := newHarness(t, sc, frames(1, time.Second))
	s, entries := h.p.Step(context.Background(), h.src.frames[0])
	if !s.Yawning || s.Faces != 2 {
		t.Fatalf("status = %+v", s)
	}
	if len(entries) != 1 || entries[0].Kind() != types.Yawning {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestGlobalDedupAcrossKinds(t *testing.T) {
	both := mesh(1, 40)
	sc := &script{
		faces: map[uint64][]types.LandmarkSet{0: {both}},
		phone: map[uint64]bool{0: true},
	}
	h := newHarness(t, sc, frames(1, time.Second))
	s, entries := h.p.Step(context.Background(), h.src.frames[0])

	if !s.Drowsy || !s.Yawning || !s.Phone {
		t.Fatalf("all three flags should be raised: %+v", s)
	}
	if len(h.alarm.kinds) != 3 {
		t.Fatalf("each kind should alarm independently: %v", h.alarm.kinds)
	}
	if len(entries) != 1 || entries[0].Kind() != types.Drowsiness {
		t.Fatalf("only drowsiness should be logged this second: %+v", entries)
	}
}

func TestInjectedClock(t *testing.T) {
	now := t0
	sc := &script{faces: map[uint64][]types.LandmarkSet{0: {drowsy}, 1: {drowsy}}}
	p, err := New(Config{
		Landmarks:  sc,
		Classifier: classify.New(classify.DefaultThresholds()),
		Session:    session.New(session.DefaultConfig(), t0),
		Alarm:      alert.AlarmFunc(func(types.AlertKind) {}),
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	fr := frames(2, 0)
	fr[0].Timestamp, fr[1].Timestamp = time.Time{}, time.Time{}

	s, _ := p.Step(context.Background(), fr[0])
	if !s.Timestamp.Equal(t0) {
		t.Fatalf("status time = %v, want clock time", s.Timestamp)
	}
	now = t0.Add(5 * time.Second)
	s, _ = p.Step(context.Background(), fr[1])
	if !s.Timers[types.Drowsiness].StartTime.Equal(now) {
		t.Fatalf("repeat window should restart at the clock time")
	}
}

func TestRunCancelled(t *testing.T) {
	sc := &script{}
	h := newHarness(t, sc, frames(5, time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(h.display.statuses) != 0 {
		t.Fatalf("no frame should be processed after cancellation")
	}
}

type failingSource struct{}

func (failingSource) Next(context.Context) (*types.Frame, error) {
	return nil, errors.New("camera unplugged")
}

func TestRunUnreadableFrameEndsGracefully(t *testing.T) {
	p, err := New(Config{
		Source:     failingSource{},
		Landmarks:  &script{},
		Classifier: classify.New(classify.DefaultThresholds()),
		Session:    session.New(session.DefaultConfig(), t0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

type sinkRecorder struct {
	mu      sync.Mutex
	entries []eventlog.Entry
	ids     []string
}

func (s *sinkRecorder) Name() string { return "recorder" }

func (s *sinkRecorder) Deliver(id string, e eventlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.entries = append(s.entries, e)
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(m, 8)
	sink := &sinkRecorder{}
	d.Add(sink)

	sc := &script{phone: map[uint64]bool{0: true, 1: true, 2: true}}
	h := newHarness(t, sc, frames(3, time.Second))
	h.p.cfg.Dispatcher = d
	if err := h.p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Close()

	if len(sink.entries) != 3 {
		t.Fatalf("sink got %d entries, want 3", len(sink.entries))
	}
	if sink.ids[0] != h.p.Session().ID {
		t.Fatalf("session id not forwarded")
	}
	if m.SinkDelivered.Load() != 3 {
		t.Fatalf("delivered = %d", m.SinkDelivered.Load())
	}
}

type blockingSink struct {
	release chan struct{}
	got     chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Deliver(string, eventlog.Entry) error {
	b.got <- struct{}{}
	<-b.release
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(m, 1)
	sink := &blockingSink{release: make(chan struct{}), got: make(chan struct{}, 4)}
	d.Add(sink)

	e := eventlog.Entry{Timestamp: t0, Detail: eventlog.PhoneUsage{Reason: eventlog.PhoneReason}}
	d.Publish("s", e)
	<-sink.got // first entry is in flight

	d.Publish("s", e) // queued
	d.Publish("s", e) // dropped

	if m.SinkDropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", m.SinkDropped.Load())
	}

	close(sink.release)
	d.Close()
	d.Publish("s", e) // after close: ignored, no panic
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Deliver(string, eventlog.Entry) error { return errors.New("db locked") }

func TestDispatcherCountsErrors(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(m, 4)
	d.Add(failingSink{})
	d.Publish("s", eventlog.Entry{Timestamp: t0, Detail: eventlog.Yawning{Reason: eventlog.YawnReason}})
	d.Close()
	if m.SinkErrors.Load() != 1 {
		t.Fatalf("sink errors = %d", m.SinkErrors.Load())
	}
}
