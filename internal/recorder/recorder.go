// Package recorder writes logged events of a monitoring session to JSONL files
// that can be replayed with ReadFile.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrBufferFull       = errors.New("recorder buffer full")
)

// Recorder appends events to a file while recording is on
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	w            *bufio.Writer
	filename     string
	basePath     string
	recording    bool
	eventCount   uint64
	bytesWritten uint64
	dropped      uint64
	startTime    time.Time
	lastSession  string
	entryChan    chan eventlog.Entry
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewRecorder creates a recorder writing under basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath:  basePath,
		entryChan: make(chan eventlog.Entry, 256),
	}
}

// Filename returns the default file name for a recording started at t
func Filename(t time.Time) string {
	return "session_" + t.Format("20060102_150405") + ".jsonl"
}

// Start opens a new file and begins recording. An empty filename uses
// Filename(now). Returns the full path.
func (r *Recorder) Start(filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	now := time.Now()
	if filename == "" {
		filename = Filename(now)
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}
	path := filepath.Join(r.basePath, filepath.Base(filename))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.w = bufio.NewWriter(file)
	r.filename = path
	r.recording = true
	r.eventCount = 0
	r.bytesWritten = 0
	r.dropped = 0
	r.startTime = now
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeEntries(r.stopChan)

	logger.Info("Recorder", "Recording events to %s", path)
	return path, nil
}

// Stop ends the recording and closes the file. Returns the file path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.filename
	if r.file != nil {
		if err := r.w.Flush(); err != nil {
			r.file.Close()
			r.file = nil
			return path, fmt.Errorf("failed to flush file: %w", err)
		}
		if err := r.file.Sync(); err != nil {
			logger.Warn("Recorder", "Failed to sync %s: %v", path, err)
		}
		if err := r.file.Close(); err != nil {
			r.file = nil
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}
	logger.Info("Recorder", "Recording stopped: %s (%d events, %d bytes)", path, r.eventCount, r.bytesWritten)
	return path, nil
}

// Name identifies the recorder as an event sink
func (r *Recorder) Name() string { return "recorder" }

// Deliver queues an entry for writing. Entries outside a recording are ignored.
func (r *Recorder) Deliver(sessionID string, e eventlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil
	}
	select {
	case r.entryChan <- e:
		r.lastSession = sessionID
		return nil
	default:
		r.dropped++
		return ErrBufferFull
	}
}

func (r *Recorder) writeEntries(stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.entryChan:
			r.writeEntry(e)
		case <-stop:
			for {
				select {
				case e := <-r.entryChan:
					r.writeEntry(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeEntry(e eventlog.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("Recorder", "Skipping entry: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return
	}
	n, err := r.w.Write(append(data, '\n'))
	if err != nil {
		logger.Warn("Recorder", "Write failed: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.eventCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		SessionID:    r.lastSession,
		EventCount:   r.eventCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// Status holds the current recording status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	SessionID    string    `json:"session_id,omitempty"`
	EventCount   uint64    `json:"event_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

// ReadFile loads a recording for replay
func ReadFile(path string) ([]eventlog.Entry, error) {
	return eventlog.ReadFile(path)
}
