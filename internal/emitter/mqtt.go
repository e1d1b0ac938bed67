// Package emitter publishes logged events to an MQTT broker.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
)

// ErrNotConnected is returned by Publish while the broker is unreachable
var ErrNotConnected = errors.New("mqtt not connected")

// Config configures the MQTT connection
type Config struct {
	Broker         string          `yaml:"broker"` // host:port
	ClientID       string          `yaml:"client_id"`
	Username       string          `yaml:"username"`
	Password       string          `yaml:"password"`
	TopicPrefix    string          `yaml:"topic_prefix"`
	QoS            map[string]byte `yaml:"qos"` // by alert kind: drowsiness, yawning, phone
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	PublishTimeout time.Duration   `yaml:"publish_timeout"`
}

// DefaultConfig returns the emitter defaults
func DefaultConfig() Config {
	return Config{
		ClientID:       "driver-monitor",
		TopicPrefix:    "driver-monitor/events",
		QoS:            map[string]byte{"drowsiness": 1, "yawning": 0, "phone": 1},
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Message is the JSON payload of one published event
type Message struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Event     eventlog.Entry `json:"event"`
}

// MQTTEmitter publishes events to <prefix>/<session>/<kind>
type MQTTEmitter struct {
	cfg    Config
	Client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; call Connect before publishing
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	d := DefaultConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = d.TopicPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = d.ClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = d.PublishTimeout
	}
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. Reconnection is automatic.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		logger.Info("MQTT", "Connected to %s as %s", e.cfg.Broker, e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		logger.Warn("MQTT", "Connection to %s lost, will auto-reconnect: %v", e.cfg.Broker, err)
	}

	e.Client = mqtt.NewClient(opts)
	logger.Info("MQTT", "Connecting to broker %s", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(e.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Topic returns the topic an event of kind in session is published to
func (e *MQTTEmitter) Topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.TopicPrefix, sessionID, kind)
}

// Name identifies the emitter as an event sink
func (e *MQTTEmitter) Name() string { return "mqtt" }

// Deliver publishes one event
func (e *MQTTEmitter) Deliver(sessionID string, entry eventlog.Entry) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	kind := entry.Kind().String()
	payload, err := json.Marshal(Message{SessionID: sessionID, Kind: kind, Event: entry})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.Topic(sessionID, kind)
	qos := e.cfg.QoS[kind]

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	logger.Debug("MQTT", "Published %s (qos=%d, %d bytes)", topic, qos, len(payload))
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		logger.Info("MQTT", "Disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
