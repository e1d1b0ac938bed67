// Package config loads driver-monitor settings from defaults, a YAML file,
// a .env file and DM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/driver-monitor/internal/alarm"
	"github.com/dj-oyu/driver-monitor/internal/classify"
	"github.com/dj-oyu/driver-monitor/internal/emitter"
	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/internal/worker"
)

// EnvPrefix is the prefix of recognised environment variables
const EnvPrefix = "DM_"

// Config is the complete driver-monitor configuration
type Config struct {
	LogLevel string `yaml:"log_level"`
	// LogModules overrides the level per module, e.g. "Worker=debug,Store=warn"
	LogModules string `yaml:"log_modules"`

	Detection DetectionConfig `yaml:"detection"`
	Alarm     AlarmConfig     `yaml:"alarm"`
	Events    EventsConfig    `yaml:"events"`
	Source    SourceConfig    `yaml:"source"`
	Worker    WorkerConfig    `yaml:"worker"`
	Web       WebConfig       `yaml:"web"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Store     StoreConfig     `yaml:"store"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DetectionConfig holds the classifier calibration
type DetectionConfig struct {
	EARThreshold           float64 `yaml:"ear_threshold"`
	MouthDistanceThreshold float64 `yaml:"mouth_distance_threshold"` // pixels
	YawnNormalization      bool    `yaml:"yawn_normalization"`
	MouthRatioThreshold    float64 `yaml:"mouth_ratio_threshold"`
	PhoneDetection         bool    `yaml:"phone_detection"`
}

// AlarmConfig configures the audible alarm
type AlarmConfig struct {
	Enabled        bool              `yaml:"enabled"`
	RepeatInterval time.Duration     `yaml:"repeat_interval"`
	PlayDuration   time.Duration     `yaml:"play_duration"`
	Sound          string            `yaml:"sound"`
	Sounds         map[string]string `yaml:"sounds"`
	Command        []string          `yaml:"command"`
}

// EventsConfig configures event deduplication
type EventsConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
	DedupMode   string        `yaml:"dedup_mode"` // global or per_kind
}

// SourceConfig selects the frame source
type SourceConfig struct {
	Spec      string        `yaml:"spec"` // dir:<path>, shm:<name> or gst:<launch>
	Mirror    bool          `yaml:"mirror"`
	FPS       float64       `yaml:"fps"` // pacing for dir sources, 0 = as fast as possible
	ShmWait   time.Duration `yaml:"shm_wait"`
	FrameTime bool          `yaml:"frame_time"` // use frame timestamps instead of the wall clock
}

// WorkerConfig configures the landmark/phone subprocess
type WorkerConfig struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebConfig configures the web monitor
type WebConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addr        string   `yaml:"addr"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	WebRTC      bool     `yaml:"webrtc"`
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// StoreConfig configures the SQLite event store
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// MQTTConfig wraps the emitter settings with an enable switch
type MQTTConfig struct {
	Enabled        bool `yaml:"enabled"`
	emitter.Config `yaml:",inline"`
}

// RecorderConfig configures JSONL session recording
type RecorderConfig struct {
	Dir       string `yaml:"dir"`
	AutoStart bool   `yaml:"auto_start"`
}

// DashboardConfig configures the terminal dashboard
type DashboardConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxEvents int  `yaml:"max_events"`
}

// Default returns the stock configuration
func Default() *Config {
	th := classify.DefaultThresholds()
	sess := session.DefaultConfig()
	al := alarm.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Detection: DetectionConfig{
			EARThreshold:           th.EAR,
			MouthDistanceThreshold: th.MouthDistance,
			MouthRatioThreshold:    th.MouthRatio,
			PhoneDetection:         true,
		},
		Alarm: AlarmConfig{
			Enabled:        true,
			RepeatInterval: sess.RepeatInterval,
			PlayDuration:   al.Duration,
			Sound:          al.Sound,
			Command:        al.Command,
		},
		Events: EventsConfig{
			DedupWindow: sess.DedupWindow,
			DedupMode:   string(sess.DedupMode),
		},
		Source: SourceConfig{
			Spec:    "shm:/driver_cam",
			Mirror:  true,
			ShmWait: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Command: []string{"python3", "worker/landmarks.py"},
			Timeout: worker.DefaultTimeout,
		},
		Web: WebConfig{
			Enabled:     true,
			Addr:        ":8080",
			JPEGQuality: 80,
			WebRTC:      true,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Store:   StoreConfig{Path: "driver_monitor.db"},
		MQTT: MQTTConfig{
			Config: emitter.DefaultConfig(),
		},
		Recorder: RecorderConfig{Dir: "recordings"},
		Dashboard: DashboardConfig{
			MaxEvents: 10,
		},
	}
}

// Load builds a configuration: defaults, then the YAML file at path (if
// path is not empty), then the .env file in the working directory and
// DM_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// a missing .env is normal; real environment variables still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from DM_* environment variables
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		*dst = getEnv(key, *dst)
	}
	num := func(key string, dst *float64) {
		v, err := getEnvFloat(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	integer := func(key string, dst *int) {
		v, err := getEnvInt(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	dur := func(key string, dst *time.Duration) {
		v, err := getEnvDuration(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	flag := func(key string, dst *bool) {
		v, err := getEnvBool(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_MODULES", &c.LogModules)

	num("EAR_THRESHOLD", &c.Detection.EARThreshold)
	num("MOUTH_DISTANCE_THRESHOLD", &c.Detection.MouthDistanceThreshold)
	flag("YAWN_NORMALIZATION", &c.Detection.YawnNormalization)
	num("MOUTH_RATIO_THRESHOLD", &c.Detection.MouthRatioThreshold)
	flag("PHONE_DETECTION", &c.Detection.PhoneDetection)

	flag("ALARM_ENABLED", &c.Alarm.Enabled)
	dur("ALARM_REPEAT_INTERVAL", &c.Alarm.RepeatInterval)
	dur("ALARM_PLAY_DURATION", &c.Alarm.PlayDuration)
	str("ALARM_SOUND", &c.Alarm.Sound)

	dur("EVENT_DEDUP_WINDOW", &c.Events.DedupWindow)
	str("EVENT_DEDUP_MODE", &c.Events.DedupMode)

	str("SOURCE", &c.Source.Spec)
	flag("MIRROR", &c.Source.Mirror)
	num("SOURCE_FPS", &c.Source.FPS)

	if v := getEnv("WORKER_COMMAND", ""); v != "" {
		c.Worker.Command = strings.Fields(v)
	}
	dur("WORKER_TIMEOUT", &c.Worker.Timeout)

	flag("WEB_ENABLED", &c.Web.Enabled)
	str("WEB_ADDR", &c.Web.Addr)
	integer("WEB_MAX_CLIENTS", &c.Web.MaxClients)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("STORE_PATH", &c.Store.Path)

	flag("MQTT_ENABLED", &c.MQTT.Enabled)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	str("RECORDER_DIR", &c.Recorder.Dir)

	return errors.Join(errs...)
}

// Validate rejects unusable settings
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logger.ParseModuleLevels(c.LogModules); err != nil {
		return fmt.Errorf("log_modules: %w", err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.Alarm.RepeatInterval <= 0 {
		return fmt.Errorf("alarm repeat_interval must be positive, got %v", c.Alarm.RepeatInterval)
	}
	if c.Alarm.PlayDuration <= 0 {
		return fmt.Errorf("alarm play_duration must be positive, got %v", c.Alarm.PlayDuration)
	}
	if c.Events.DedupWindow <= 0 {
		return fmt.Errorf("events dedup_window must be positive, got %v", c.Events.DedupWindow)
	}
	if _, err := eventlog.ParseDedupMode(c.Events.DedupMode); err != nil {
		return err
	}
	if c.Source.Spec == "" {
		return errors.New("source spec is required")
	}
	if c.Source.FPS < 0 {
		return fmt.Errorf("source fps must not be negative, got %v", c.Source.FPS)
	}
	if len(c.Worker.Command) == 0 {
		return errors.New("worker command is required")
	}
	if c.Worker.Timeout <= 0 {
		return fmt.Errorf("worker timeout must be positive, got %v", c.Worker.Timeout)
	}
	if c.Web.Enabled && (c.Web.JPEGQuality < 1 || c.Web.JPEGQuality > 100) {
		return fmt.Errorf("web jpeg_quality must be in 1..100, got %d", c.Web.JPEGQuality)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt broker is required when mqtt is enabled")
	}
	return nil
}

// Thresholds returns the classifier calibration
func (c *Config) Thresholds() classify.Thresholds {
	th := classify.DefaultThresholds()
	th.EAR = c.Detection.EARThreshold
	th.MouthDistance = c.Detection.MouthDistanceThreshold
	th.NormalizeMouth = c.Detection.YawnNormalization
	th.MouthRatio = c.Detection.MouthRatioThreshold
	return th
}

// SessionConfig returns the session settings
func (c *Config) SessionConfig() session.Config {
	mode, _ := eventlog.ParseDedupMode(c.Events.DedupMode)
	return session.Config{
		RepeatInterval: c.Alarm.RepeatInterval,
		DedupWindow:    c.Events.DedupWindow,
		DedupMode:      mode,
		Source:         c.Source.Spec,
	}
}

// AlarmPlayerConfig returns the alarm player settings
func (c *Config) AlarmPlayerConfig() alarm.Config {
	return alarm.Config{
		Sound:    c.Alarm.Sound,
		Sounds:   c.Alarm.Sounds,
		Command:  c.Alarm.Command,
		Duration: c.Alarm.PlayDuration,
	}
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}
