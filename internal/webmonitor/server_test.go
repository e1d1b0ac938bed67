package webmonitor

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/recorder"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

type testEnv struct {
	hub  *Hub
	sess *session.Session
	srv  *httptest.Server
}

func newEnv(t *testing.T, offers OfferHandler, rec Recorder) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StatusInterval = 10 * time.Millisecond
	sess := session.New(session.Config{Source: "dir:test", DedupWindow: time.Second}, time.Now())
	hub := NewHub(cfg, sess)
	srv := httptest.NewServer(NewServer(cfg, hub, offers, rec).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testEnv{hub: hub, sess: sess, srv: srv}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func testFrame(n uint64) *types.Frame {
	return types.NewFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)), n, time.Now())
}

// readSSEData returns the payload of the next "data:" line
func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestIndexAndNotFound(t *testing.T) {
	env := newEnv(t, nil, nil)

	resp := env.get(t, "/")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Driver Monitor") {
		t.Fatalf("index: %d", resp.StatusCode)
	}
	if resp := env.get(t, "/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: %d", resp.StatusCode)
	}
	if resp := env.get(t, "/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestStatusReflectsLatestFrame(t *testing.T) {
	env := newEnv(t, nil, nil)
	env.hub.Show(testFrame(7), types.FrameStatus{FrameNum: 7, Faces: 1, EAR: 0.2, Drowsy: true})
	env.sess.Events.Record(eventlog.Drowsiness{EAR: 0.2}, time.Now())

	var p StatusPayload
	decodeJSON(t, env.get(t, "/api/status").Body, &p)
	if p.Status.FrameNum != 7 || !p.Status.Drowsy || p.Status.Yawning {
		t.Fatalf("status = %+v", p.Status)
	}
	if p.Session == nil || p.Session.ID != env.sess.ID || p.Session.Source != "dir:test" {
		t.Fatalf("session = %+v", p.Session)
	}
	if p.Counts["drowsiness"] != 1 || p.Monitor.EventsLogged != 1 || p.Monitor.FramesShown != 1 {
		t.Fatalf("counts = %v monitor = %+v", p.Counts, p.Monitor)
	}
}

func TestEventsAndReport(t *testing.T) {
	env := newEnv(t, nil, nil)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.Local)
	env.sess.Events.Record(eventlog.Drowsiness{EAR: 0.2104}, base)
	env.sess.Events.Record(eventlog.PhoneUsage{Reason: eventlog.PhoneReason}, base.Add(time.Second))

	var got struct {
		Events []eventlog.Entry `json:"events"`
		Total  int              `json:"total"`
		Counts map[string]int   `json:"counts"`
	}
	decodeJSON(t, env.get(t, "/api/events").Body, &got)
	if got.Total != 2 || len(got.Events) != 2 || got.Counts["phone"] != 1 {
		t.Fatalf("events = %+v", got)
	}

	resp := env.get(t, "/api/report.csv")
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "driver_monitoring_report_") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	want := "timestamp,event_type,ear_value,details\n" +
		"2026-05-01 09:00:00,Drowsiness,0.210,\n" +
		"2026-05-01 09:00:01,Phone Usage,,Mobile phone detected in frame\n"
	if string(body) != want {
		t.Fatalf("report:\n%s\nwant:\n%s", body, want)
	}
}

func TestEventStreamJSONAndProtobuf(t *testing.T) {
	env := newEnv(t, nil, nil)

	jsonResp := env.get(t, "/api/events/stream")
	if ct := jsonResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/events/stream", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	pbResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer pbResp.Body.Close()
	if f := pbResp.Header.Get("X-Content-Format"); f != "application/protobuf" {
		t.Fatalf("X-Content-Format = %q", f)
	}

	e := eventlog.Entry{Timestamp: time.Now(), Detail: eventlog.Yawning{Reason: eventlog.YawnReason}}
	if err := env.hub.Deliver("sess-1", e); err != nil {
		t.Fatal(err)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(readSSEData(t, bufio.NewReader(jsonResp.Body))), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["event_type"] != "Yawning" || rec["session_id"] != "sess-1" {
		t.Fatalf("json event = %v", rec)
	}

	raw, err := base64.StdEncoding.DecodeString(readSSEData(t, bufio.NewReader(pbResp.Body)))
	if err != nil {
		t.Fatal(err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatal(err)
	}
	if st.Fields["details"].GetStringValue() != eventlog.YawnReason {
		t.Fatalf("protobuf event = %v", st.Fields)
	}
}

func TestStatusStreamSendsInitialAndUpdates(t *testing.T) {
	env := newEnv(t, nil, nil)
	resp := env.get(t, "/api/status/stream")
	r := bufio.NewReader(resp.Body)

	var first StatusPayload
	if err := json.Unmarshal([]byte(readSSEData(t, r)), &first); err != nil {
		t.Fatal(err)
	}
	if first.Status.Phone {
		t.Fatalf("initial status should be idle")
	}

	env.hub.Show(testFrame(3), types.FrameStatus{FrameNum: 3, Phone: true})
	var next StatusPayload
	if err := json.Unmarshal([]byte(readSSEData(t, r)), &next); err != nil {
		t.Fatal(err)
	}
	if !next.Status.Phone || next.Status.FrameNum != 3 {
		t.Fatalf("update = %+v", next.Status)
	}
}

func TestMJPEGStream(t *testing.T) {
	env := newEnv(t, nil, nil)
	resp := env.get(t, "/stream")
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "--frame" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	// skip part headers
	for {
		h, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if h == "\r\n" {
			break
		}
	}
	soi := make([]byte, 2)
	if _, err := io.ReadFull(r, soi); err != nil || !bytes.Equal(soi, []byte{0xff, 0xd8}) {
		t.Fatalf("part is not a jpeg: %x %v", soi, err)
	}
}

func TestRecordingEndpoints(t *testing.T) {
	rec := recorder.NewRecorder(t.TempDir())
	env := newEnv(t, nil, rec)

	if resp := env.get(t, "/api/recording/start"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET start: %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/recording/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/recording/start", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second start: %d", resp.StatusCode)
	}

	var st recorder.Status
	decodeJSON(t, env.get(t, "/api/recording/status").Body, &st)
	if !st.Recording {
		t.Fatalf("status = %+v", st)
	}
	if resp := env.post(t, "/api/recording/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/recording/stop", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second stop: %d", resp.StatusCode)
	}
}

func TestRecordingUnavailable(t *testing.T) {
	env := newEnv(t, nil, nil)
	if resp := env.post(t, "/api/recording/start", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("start without recorder: %d", resp.StatusCode)
	}
}

type fakeOffers struct {
	answer []byte
	err    error
}

func (f fakeOffers) HandleOffer([]byte) ([]byte, error) { return f.answer, f.err }

func TestWebRTCOffer(t *testing.T) {
	env := newEnv(t, fakeOffers{answer: []byte(`{"type":"answer","sdp":"v=0"}`)}, nil)

	resp := env.post(t, "/api/webrtc/offer", `{"type":"offer","sdp":"v=0"}`)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"answer"`) {
		t.Fatalf("offer: %d %s", resp.StatusCode, body)
	}
	if resp := env.post(t, "/api/webrtc/offer", `{"type":"offer"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing sdp: %d", resp.StatusCode)
	}

	failing := newEnv(t, fakeOffers{err: errors.New("maximum clients reached")}, nil)
	if resp := failing.post(t, "/api/webrtc/offer", `{"type":"offer","sdp":"v=0"}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("failing offer: %d", resp.StatusCode)
	}

	disabled := newEnv(t, nil, nil)
	if resp := disabled.post(t, "/api/webrtc/offer", `{"type":"offer","sdp":"v=0"}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("disabled: %d", resp.StatusCode)
	}
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := newBroadcaster[int](1)
	id, ch := b.Subscribe()
	b.broadcast(1)
	b.broadcast(2) // buffer full

	if v := <-ch; v != 1 {
		t.Fatalf("got %d", v)
	}
	if b.dropped != 1 {
		t.Fatalf("dropped = %d", b.dropped)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}

	_, ch2 := b.Subscribe()
	b.Close()
	if _, ok := <-ch2; ok {
		t.Fatalf("channel should be closed after Close")
	}
	if _, ch3 := b.Subscribe(); ch3 == nil {
		t.Fatalf("subscribe after close must return a closed channel")
	}
}

func TestHubWithoutSession(t *testing.T) {
	hub := NewHub(Config{EventHistory: 2}, nil)
	defer hub.Close()

	now := time.Now()
	for i := 0; i < 3; i++ {
		e := eventlog.Entry{Timestamp: now.Add(time.Duration(i) * time.Second), Detail: eventlog.PhoneUsage{Reason: eventlog.PhoneReason}}
		if err := hub.Deliver("", e); err != nil {
			t.Fatal(err)
		}
	}
	if got := hub.Events(); len(got) != 2 || !got[1].Timestamp.Equal(now.Add(2*time.Second)) {
		t.Fatalf("history = %+v", got)
	}
	if p := hub.Snapshot(); p.Counts["phone"] != 3 || p.Session != nil {
		t.Fatalf("snapshot = %+v", p)
	}
}
