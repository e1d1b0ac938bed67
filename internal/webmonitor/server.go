package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/recorder"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// OfferHandler answers WebRTC offers for /api/webrtc/offer
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// Recorder controls session recording for /api/recording/*
type Recorder interface {
	Start(filename string) (string, error)
	Stop() (string, error)
	Status() recorder.Status
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg      Config
	hub      *Hub
	offers   OfferHandler
	recorder Recorder
	http     *http.Server
}

// NewServer returns a monitor server backed by hub. offers and rec may be nil.
func NewServer(cfg Config, hub *Hub, offers OfferHandler, rec Recorder) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		hub:      hub,
		offers:   offers,
		recorder: rec,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/api/report.csv", s.handleReport)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

// Start listens on cfg.Addr and serves in the background. It returns the
// bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebMonitor", "HTTP server error: %v", err)
		}
	}()
	logger.Info("WebMonitor", "Web monitor listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown closes streaming clients and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Snapshot()
	writeJSON(w, map[string]any{
		"status":       "ok",
		"uptime_sec":   snap.Monitor.UptimeSec,
		"frames_shown": snap.Monitor.FramesShown,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.hub.frames.Subscribe()
	defer s.hub.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.MJPEGIdle)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.statuses.Subscribe()
	defer s.hub.statuses.Unsubscribe(id)

	initial, err := serialize(s.hub.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	streamEventsFromChannel(r.Context(), w, eventCh, initial, wantsProtobuf(r), s.cfg.KeepAlive)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	entries := s.hub.Events()
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	sum := eventlog.Summarize(entries)
	counts := make(map[string]int, types.NumKinds)
	for _, kind := range types.AllKinds {
		counts[kind.String()] = sum.Count(kind)
	}
	writeJSON(w, map[string]any{
		"events": entries,
		"total":  sum.Total,
		"counts": counts,
	})
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.events.Subscribe()
	defer s.hub.events.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh, nil, wantsProtobuf(r), s.cfg.KeepAlive)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := eventlog.WriteCSV(&buf, s.hub.Events()); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", eventlog.ReportFilename(time.Now())))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.recorder.Start(r.URL.Query().Get("filename"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.Status{})
		return
	}
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.offers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.offers.HandleOffer(body)
	if err != nil {
		logger.Warn("WebMonitor", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
