package pipeline

import (
	"sync"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/metrics"
)

// DefaultSinkBuffer is the per-sink queue length
const DefaultSinkBuffer = 64

type delivery struct {
	sessionID string
	entry     eventlog.Entry
}

type sinkQueue struct {
	sink EventSink
	ch   chan delivery
}

// Dispatcher fans logged events out to sinks. Each sink has its own queue
// and goroutine; a full queue drops the event for that sink only.
type Dispatcher struct {
	mu      sync.RWMutex
	queues  []*sinkQueue
	closed  bool
	bufSize int
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given per-sink buffer
func NewDispatcher(m *metrics.Metrics, bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultSinkBuffer
	}
	return &Dispatcher{bufSize: bufSize, metrics: m}
}

// Add registers a sink and starts its delivery goroutine
func (d *Dispatcher) Add(sink EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	q := &sinkQueue{sink: sink, ch: make(chan delivery, d.bufSize)}
	d.queues = append(d.queues, q)

	d.wg.Add(1)
	go d.run(q)

	logger.Info("Dispatch", "Sink added: %s (buffer=%d)", sink.Name(), d.bufSize)
}

func (d *Dispatcher) run(q *sinkQueue) {
	defer d.wg.Done()
	for item := range q.ch {
		if err := q.sink.Deliver(item.sessionID, item.entry); err != nil {
			if d.metrics != nil {
				d.metrics.SinkErrors.Add(1)
			}
			logger.Warn("Dispatch", "%s delivery failed: %v", q.sink.Name(), err)
			continue
		}
		if d.metrics != nil {
			d.metrics.SinkDelivered.Add(1)
		}
	}
}

// Publish queues an entry for every sink without blocking
func (d *Dispatcher) Publish(sessionID string, e eventlog.Entry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	item := delivery{sessionID: sessionID, entry: e}
	for _, q := range d.queues {
		select {
		case q.ch <- item:
		default:
			if d.metrics != nil {
				d.metrics.SinkDropped.Add(1)
			}
			logger.Debug("Dispatch", "%s queue full, event dropped", q.sink.Name())
		}
	}
}

// Close stops accepting events and waits for queued deliveries to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
