package webmonitor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/overlay"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Hub receives frames and events from the pipeline and fans them out to
// HTTP clients. It implements the pipeline Display and EventSink interfaces.
type Hub struct {
	cfg       Config
	sess      *session.Session
	startTime time.Time

	mu          sync.RWMutex
	latest      types.FrameStatus
	latestFrame *types.Frame
	version     uint64
	framesShown uint64
	fps         float64
	fpsFrames   int
	fpsSince    time.Time
	recent      []eventlog.Entry
	counts      [types.NumKinds]int

	frames   *broadcaster[[]byte]
	statuses *broadcaster[*SerializedEvent]
	events   *broadcaster[*SerializedEvent]

	frameReady chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewHub starts the hub's encoder loops. sess may be nil.
func NewHub(cfg Config, sess *session.Session) *Hub {
	cfg = cfg.withDefaults()
	now := time.Now()
	h := &Hub{
		cfg:        cfg,
		sess:       sess,
		startTime:  now,
		fpsSince:   now,
		frames:     newBroadcaster[[]byte](2),
		statuses:   newBroadcaster[*SerializedEvent](8),
		events:     newBroadcaster[*SerializedEvent](32),
		frameReady: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}

	h.wg.Add(2)
	go h.encodeFrames()
	go h.pushStatus()
	return h
}

// Show records the latest frame and status. It never blocks.
func (h *Hub) Show(frame *types.Frame, status types.FrameStatus) {
	now := time.Now()

	h.mu.Lock()
	h.latest = status
	h.latestFrame = frame
	h.version++
	h.framesShown++
	h.fpsFrames++
	if elapsed := now.Sub(h.fpsSince); elapsed >= time.Second {
		h.fps = float64(h.fpsFrames) / elapsed.Seconds()
		h.fpsFrames = 0
		h.fpsSince = now
	}
	h.mu.Unlock()

	select {
	case h.frameReady <- struct{}{}:
	default:
	}
}

// Name identifies the hub as an event sink
func (h *Hub) Name() string { return "webmonitor" }

// Deliver stores the entry and pushes it to /api/events/stream clients
func (h *Hub) Deliver(sessionID string, e eventlog.Entry) error {
	h.mu.Lock()
	h.recent = append(h.recent, e)
	if over := len(h.recent) - h.cfg.EventHistory; over > 0 {
		h.recent = append(h.recent[:0:0], h.recent[over:]...)
	}
	h.counts[e.Kind()]++
	h.mu.Unlock()

	if h.events.Len() == 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ev, err := eventPayload(sessionID, data)
	if err != nil {
		return err
	}
	h.events.broadcast(ev)
	return nil
}

// Events returns the session log when a session is attached, otherwise the
// entries delivered to the hub.
func (h *Hub) Events() []eventlog.Entry {
	if h.sess != nil {
		return h.sess.Events.Entries()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]eventlog.Entry, len(h.recent))
	copy(out, h.recent)
	return out
}

// Snapshot builds the current status payload
func (h *Hub) Snapshot() StatusPayload {
	h.mu.RLock()
	status := h.latest
	stats := MonitorStats{
		FramesShown: h.framesShown,
		CurrentFPS:  h.fps,
		UptimeSec:   time.Since(h.startTime).Seconds(),
	}
	counts := h.counts
	h.mu.RUnlock()

	stats.Subscribers = h.frames.Len() + h.statuses.Len() + h.events.Len()

	payload := StatusPayload{
		Status:    status,
		Monitor:   stats,
		Counts:    make(map[string]int, types.NumKinds),
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
	if h.sess != nil {
		sum := eventlog.Summarize(h.sess.Events.Entries())
		for _, kind := range types.AllKinds {
			payload.Counts[kind.String()] = sum.Count(kind)
		}
		payload.Monitor.EventsLogged = sum.Total
		payload.Session = &SessionInfo{
			ID:        h.sess.ID,
			Source:    h.sess.Source,
			StartedAt: float64(h.sess.StartedAt.Unix()),
		}
	} else {
		for _, kind := range types.AllKinds {
			payload.Counts[kind.String()] = counts[kind]
			payload.Monitor.EventsLogged += counts[kind]
		}
	}
	return payload
}

func (h *Hub) encodeFrames() {
	defer h.wg.Done()

	var lastVersion uint64
	for {
		select {
		case <-h.stop:
			return
		case <-h.frameReady:
		}

		if h.frames.Len() == 0 {
			continue
		}

		h.mu.RLock()
		frame, version := h.latestFrame, h.version
		h.mu.RUnlock()
		if frame == nil || frame.Image == nil || version == lastVersion {
			continue
		}
		lastVersion = version

		data, err := overlay.EncodeJPEG(frame.Image, h.cfg.JPEGQuality)
		if err != nil {
			logger.Warn("WebMonitor", "Failed to encode frame %d: %v", frame.FrameNum, err)
			continue
		}
		h.frames.broadcast(data)
	}
}

func (h *Hub) pushStatus() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		if h.statuses.Len() == 0 {
			continue
		}
		h.mu.RLock()
		version := h.version
		h.mu.RUnlock()
		if version == lastVersion {
			continue
		}
		lastVersion = version

		ev, err := serialize(h.Snapshot())
		if err != nil {
			logger.Warn("WebMonitor", "Failed to serialize status: %v", err)
			continue
		}
		h.statuses.broadcast(ev)
	}
}

// Close stops the encoder loops and disconnects all streaming clients
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.wg.Wait()
		h.frames.Close()
		h.statuses.Close()
		h.events.Close()
	})
}
