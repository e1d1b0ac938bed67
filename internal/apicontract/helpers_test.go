package apicontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

// monitorClient talks to a running driver-monitor web server
type monitorClient struct {
	baseURL string
	client  *http.Client
}

func newMonitorClient(t *testing.T) *monitorClient {
	t.Helper()
	baseURL := os.Getenv("DM_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/health") {
		t.Skipf("driver-monitor not reachable at %s (set DM_BASE_URL to run)", baseURL)
	}

	return &monitorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *monitorClient) do(t *testing.T, method, path string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (c *monitorClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

func (c *monitorClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path, bytes.NewReader([]byte("{}")))
}

// getStream returns the open response; the caller closes the body
func (c *monitorClient) getStream(t *testing.T, ctx context.Context, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	// streams outlive the client timeout; ctx bounds them instead
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

// readSSEEvent returns the first non-comment event of an SSE stream
func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 512)
	for {
		n, readErr := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		for {
			idx := bytes.Index(buf, []byte("\n\n"))
			if idx < 0 {
				break
			}
			event := string(buf[:idx])
			buf = buf[idx+2:]
			if !strings.HasPrefix(event, ":") {
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

var kinds = []string{"drowsiness", "yawning", "phone"}

func assertFrameStatus(t *testing.T, status map[string]any) {
	t.Helper()
	requireNumber(t, status["frame_number"], "status.frame_number")
	requireString(t, status["timestamp"], "status.timestamp")
	requireNumber(t, status["faces"], "status.faces")
	requireNumber(t, status["ear"], "status.ear")
	requireNumber(t, status["mouth_distance"], "status.mouth_distance")
	requireBool(t, status["drowsy"], "status.drowsy")
	requireBool(t, status["yawning"], "status.yawning")
	requireBool(t, status["phone"], "status.phone")

	if status["timers"] == nil {
		return
	}
	for i, raw := range requireSlice(t, status["timers"], "status.timers") {
		timer := requireMap(t, raw, fmt.Sprintf("status.timers[%d]", i))
		requireString(t, timer["kind"], "timer.kind")
		active := requireBool(t, timer["active"], "timer.active")
		requireBool(t, timer["alarm_fired"], "timer.alarm_fired")
		if active {
			requireString(t, timer["start_time"], "timer.start_time")
		} else if timer["start_time"] != nil {
			t.Fatalf("inactive timer %v has a start time", timer["kind"])
		}
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	assertFrameStatus(t, requireMap(t, payload["status"], "status"))

	monitor := requireMap(t, payload["monitor"], "monitor")
	requireNumber(t, monitor["frames_shown"], "monitor.frames_shown")
	requireNumber(t, monitor["current_fps"], "monitor.current_fps")
	requireNumber(t, monitor["events_logged"], "monitor.events_logged")
	requireNumber(t, monitor["subscribers"], "monitor.subscribers")
	requireNumber(t, monitor["uptime_sec"], "monitor.uptime_sec")

	if payload["session"] != nil {
		session := requireMap(t, payload["session"], "session")
		requireString(t, session["id"], "session.id")
		requireNumber(t, session["started_at"], "session.started_at")
	}

	counts := requireMap(t, payload["counts"], "counts")
	for _, kind := range kinds {
		requireNumber(t, counts[kind], "counts."+kind)
	}
	requireNumber(t, payload["timestamp"], "timestamp")
}

func assertEventRecord(t *testing.T, event map[string]any, field string) {
	t.Helper()
	ts := requireString(t, event["timestamp"], field+".timestamp")
	if _, err := time.Parse("2006-01-02 15:04:05", ts); err != nil {
		t.Fatalf("%s.timestamp %q: %v", field, ts, err)
	}
	switch eventType := requireString(t, event["event_type"], field+".event_type"); eventType {
	case "Drowsiness":
		requireNumber(t, event["ear_value"], field+".ear_value")
	case "Yawning", "Phone Usage":
		requireString(t, event["details"], field+".details")
	default:
		t.Fatalf("%s.event_type = %q", field, eventType)
	}
}
