package emitter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; other mqtt.Client methods are not used
type fakeClient struct {
	mqtt.Client
	err  error
	msgs []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint) {}

func connected(client *fakeClient) *MQTTEmitter {
	e := NewMQTTEmitter(DefaultConfig())
	e.Client = client
	e.setConnected(true)
	return e
}

func sampleEntry() eventlog.Entry {
	return eventlog.Entry{
		Timestamp: time.Date(2026, 6, 1, 7, 0, 0, 0, time.Local),
		Detail:    eventlog.Drowsiness{EAR: 0.19},
	}
}

func TestDeliverPublishesToKindTopic(t *testing.T) {
	client := &fakeClient{}
	e := connected(client)

	if err := e.Deliver("sess-9", sampleEntry()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("published %d messages", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "driver-monitor/events/sess-9/drowsiness" || msg.qos != 1 {
		t.Fatalf("topic=%s qos=%d", msg.topic, msg.qos)
	}

	var got struct {
		SessionID string         `json:"session_id"`
		Kind      string         `json:"kind"`
		Event     map[string]any `json:"event"`
	}
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-9" || got.Kind != "drowsiness" || got.Event["event_type"] != "Drowsiness" || got.Event["ear_value"] != 0.19 {
		t.Fatalf("payload = %s", msg.payload)
	}

	st := e.Stats()
	if !st.Connected || st.Published[msg.topic] != 1 || st.Errors != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDeliverNotConnected(t *testing.T) {
	e := NewMQTTEmitter(Config{})
	if err := e.Deliver("s", sampleEntry()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
	if e.Stats().Errors != 1 {
		t.Fatalf("error not counted")
	}
}

func TestDeliverPublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("broker gone")}
	e := connected(client)
	if err := e.Deliver("s", sampleEntry()); err == nil {
		t.Fatalf("expected publish error")
	}
	st := e.Stats()
	if st.Errors != 1 || len(st.Published) != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDisconnect(t *testing.T) {
	e := connected(&fakeClient{})
	e.Disconnect()
	if e.Stats().Connected {
		t.Fatalf("still connected")
	}
}

func TestTopicDefaults(t *testing.T) {
	e := NewMQTTEmitter(Config{TopicPrefix: "fleet/cab1"})
	if got := e.Topic("abc", "phone"); got != "fleet/cab1/abc/phone" {
		t.Fatalf("Topic = %s", got)
	}
}
