package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/alarm"
	"github.com/dj-oyu/driver-monitor/internal/alert"
	"github.com/dj-oyu/driver-monitor/internal/capture"
	"github.com/dj-oyu/driver-monitor/internal/capture/gst"
	"github.com/dj-oyu/driver-monitor/internal/capture/shm"
	"github.com/dj-oyu/driver-monitor/internal/classify"
	"github.com/dj-oyu/driver-monitor/internal/config"
	"github.com/dj-oyu/driver-monitor/internal/dashboard"
	"github.com/dj-oyu/driver-monitor/internal/emitter"
	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/metrics"
	"github.com/dj-oyu/driver-monitor/internal/overlay"
	"github.com/dj-oyu/driver-monitor/internal/pipeline"
	"github.com/dj-oyu/driver-monitor/internal/recorder"
	"github.com/dj-oyu/driver-monitor/internal/session"
	"github.com/dj-oyu/driver-monitor/internal/store"
	"github.com/dj-oyu/driver-monitor/internal/webmonitor"
	"github.com/dj-oyu/driver-monitor/internal/webrtc"
	"github.com/dj-oyu/driver-monitor/internal/worker"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Command-line flags. Anything set here overrides the config file and
// the environment.
var (
	configPath  = flag.String("config", "", "YAML config file")
	source      = flag.String("source", "", "Frame source (dir:<path>, shm:<name>, gst:<launch>)")
	fps         = flag.Float64("fps", 0, "Pacing for dir sources (0 = unpaced)")
	noMirror    = flag.Bool("no-mirror", false, "Do not flip frames horizontally")
	httpAddr    = flag.String("http", "", "Web monitor address")
	metricsAddr = flag.String("metrics", "", "Metrics server address (empty string disables)")
	dbPath      = flag.String("db", "", "SQLite event store path")
	recordPath  = flag.String("record-path", "", "Recording output path")
	record      = flag.Bool("record", false, "Start recording events when the session starts")
	silent      = flag.Bool("silent", false, "Log alarms instead of playing sound")
	tui         = flag.Bool("tui", false, "Show the terminal dashboard")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logModules  = flag.String("log-modules", "", "Per-module log levels, e.g. Worker=debug,Store=warn")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
	logFile     = flag.String("log-file", "driver-monitor.log", "Log file used while the dashboard is shown")
)

// App owns every component of one monitoring run
type App struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	session *session.Session

	source  capture.Source
	closers []io.Closer
	worker  *worker.Process
	player  *alarm.Player

	dispatcher *pipeline.Dispatcher
	pipeline   *pipeline.Pipeline

	store     *store.Store
	recorder  *recorder.Recorder
	mqtt      *emitter.MQTTEmitter
	hub       *webmonitor.Hub
	web       *webmonitor.Server
	webrtc    *webrtc.Server
	dashboard *dashboard.Dashboard
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	var logOut io.Writer = os.Stderr
	if cfg.Dashboard.Enabled {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger.Init(level, logOut, *logColor && !cfg.Dashboard.Enabled)
	modules, err := logger.ParseModuleLevels(cfg.LogModules)
	if err != nil {
		log.Fatalf("Invalid log modules: %v", err)
	}
	logger.SetModuleLevels(modules)

	logger.Info("Main", "Driver monitor starting...")
	logger.Info("Main", "Log level: %s", level)
	if len(modules) > 0 {
		logger.Info("Main", "Module log levels: %s", logger.FormatModuleLevels(modules))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	runErr := app.Run(ctx, stop)

	logger.Info("Main", "Shutting down...")
	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Main", "Pipeline stopped: %v", runErr)
		os.Exit(1)
	}
	logger.Info("Main", "Stopped")
}

// applyFlags copies explicitly set flags over the loaded configuration
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Spec = *source
		case "fps":
			cfg.Source.FPS = *fps
		case "no-mirror":
			cfg.Source.Mirror = !*noMirror
		case "http":
			cfg.Web.Addr = *httpAddr
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
		case "db":
			cfg.Store.Path = *dbPath
		case "record-path":
			cfg.Recorder.Dir = *recordPath
		case "record":
			cfg.Recorder.AutoStart = *record
		case "silent":
			cfg.Alarm.Enabled = !*silent
		case "tui":
			cfg.Dashboard.Enabled = *tui
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-modules":
			cfg.LogModules = *logModules
		}
	})
}

// NewApp creates and connects every component. Optional outputs that fail
// to start are logged and skipped; the source and the worker are required.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: metrics.New(),
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	a.source = src

	a.worker, err = worker.Start(ctx, worker.ProcessConfig{
		Command: cfg.Worker.Command,
		Dir:     cfg.Worker.Dir,
		Timeout: cfg.Worker.Timeout,
	})
	if err != nil {
		a.closeSources()
		return nil, fmt.Errorf("failed to start landmark worker: %w", err)
	}

	a.session = session.New(cfg.SessionConfig(), time.Now())
	logger.Info("Main", "Session %s (source %s)", a.session.ID, cfg.Source.Spec)

	a.dispatcher = pipeline.NewDispatcher(a.metrics, pipeline.DefaultSinkBuffer)
	a.openSinks(ctx)

	var displays []pipeline.Display
	if a.hub != nil {
		displays = append(displays, a.hub)
	}
	if a.webrtc != nil {
		displays = append(displays, a.webrtc)
	}
	if a.dashboard != nil {
		displays = append(displays, a.dashboard)
	}

	var phone pipeline.PhoneDetector
	if cfg.Detection.PhoneDetection {
		phone = a.worker
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Source:     a.source,
		Landmarks:  a.worker,
		Phone:      phone,
		Classifier: classify.New(cfg.Thresholds()),
		Session:    a.session,
		Alarm:      a.alarm(),
		Annotator:  overlay.New(),
		Displays:   displays,
		Dispatcher: a.dispatcher,
		Metrics:    a.metrics,
		FrameTime:  cfg.Source.FrameTime,
	})
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *App) openSource(ctx context.Context) (capture.Source, error) {
	spec, err := capture.ParseSpec(a.cfg.Source.Spec)
	if err != nil {
		return nil, err
	}

	var src capture.Source
	switch spec.Kind {
	case "dir":
		src, err = capture.NewDirSource(spec.Arg, a.cfg.Source.FPS)
	case "shm":
		var r *shm.Reader
		r, err = shm.Open(ctx, spec.Arg, a.cfg.Source.ShmWait)
		if err == nil {
			a.closers = append(a.closers, r)
			src = r
		}
	case "gst":
		var s *gst.Source
		s, err = gst.Open(spec.Arg)
		if err == nil {
			a.closers = append(a.closers, s)
			src = s
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", spec, err)
	}

	if a.cfg.Source.Mirror {
		src = &capture.Mirror{Source: src}
	}
	return src, nil
}

func (a *App) alarm() alert.Alarm {
	if !a.cfg.Alarm.Enabled {
		return alarm.Silent{}
	}
	a.player = alarm.New(a.cfg.AlarmPlayerConfig(), func(kind types.AlertKind, err error) {
		a.metrics.AlarmErrors.Add(1)
	})
	return a.player
}

// openSinks creates the event consumers and registers them with the dispatcher
func (a *App) openSinks(ctx context.Context) {
	cfg := a.cfg

	if cfg.Store.Path != "" {
		st, err := store.Open(ctx, cfg.Store.Path)
		if err == nil {
			err = st.OpenSession(ctx, a.session.ID, a.session.Source, a.session.StartedAt)
			if err != nil {
				st.Close()
			}
		}
		if err != nil {
			logger.Error("Main", "Event store disabled: %v", err)
		} else {
			a.store = st
			a.dispatcher.Add(st)
		}
	}

	if cfg.Recorder.Dir != "" {
		a.recorder = recorder.NewRecorder(cfg.Recorder.Dir)
		a.dispatcher.Add(a.recorder)
		if cfg.Recorder.AutoStart {
			if path, err := a.recorder.Start(recorder.Filename(a.session.StartedAt)); err != nil {
				logger.Error("Main", "Failed to start recording: %v", err)
			} else {
				logger.Info("Main", "Recording events to %s", path)
			}
		}
	}

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(cfg.MQTT.Config)
		if err := em.Connect(); err != nil {
			// auto-reconnect keeps retrying in the background
			logger.Warn("Main", "MQTT: %v", err)
		}
		a.mqtt = em
		a.dispatcher.Add(em)
	}

	if cfg.Web.WebRTC && cfg.Web.Enabled {
		a.webrtc = webrtc.NewServer(cfg.Web.STUNServers, cfg.Web.MaxClients, a.metrics)
		a.dispatcher.Add(a.webrtc)
	}

	if cfg.Web.Enabled {
		wc := webmonitor.DefaultConfig()
		wc.Addr = cfg.Web.Addr
		wc.JPEGQuality = cfg.Web.JPEGQuality
		a.hub = webmonitor.NewHub(wc, a.session)
		a.dispatcher.Add(a.hub)

		var offers webmonitor.OfferHandler
		if a.webrtc != nil {
			offers = a.webrtc
		}
		var rec webmonitor.Recorder
		if a.recorder != nil {
			rec = a.recorder
		}
		a.web = webmonitor.NewServer(wc, a.hub, offers, rec)
	}

	if cfg.Dashboard.Enabled {
		a.dashboard = dashboard.New(a.session.ID, cfg.Detection.EARThreshold, cfg.Dashboard.MaxEvents)
		a.dispatcher.Add(a.dashboard)
	}
}

// Run starts the servers and blocks until the pipeline ends. Quitting the
// dashboard calls stop, which cancels ctx.
func (a *App) Run(ctx context.Context, stop context.CancelFunc) error {
	if a.cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.Metrics.Addr)
			if err := a.metrics.StartServer(a.cfg.Metrics.Addr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if a.web != nil {
		if _, err := a.web.Start(); err != nil {
			logger.Error("Main", "Web monitor disabled: %v", err)
			a.web = nil
		}
	}

	var wg sync.WaitGroup
	if a.dashboard != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.dashboard.Run(); err != nil {
				logger.Error("Main", "Dashboard error: %v", err)
			}
			stop()
		}()
	}

	err := a.pipeline.Run(ctx)

	if a.dashboard != nil {
		a.dashboard.Quit()
		wg.Wait()
	}
	return err
}

// Shutdown stops every component and closes the session
func (a *App) Shutdown() error {
	var errs []error
	now := time.Now()
	if a.session != nil {
		a.session.End(now)
	}

	// flush queued events before the sinks go away
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.player != nil {
		a.player.Wait()
	}

	if a.worker != nil {
		errs = append(errs, a.worker.Close(2*time.Second))
	}
	a.closeSources()

	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.web.Shutdown(ctx))
		cancel()
	} else if a.hub != nil {
		a.hub.Close()
	}
	if a.webrtc != nil {
		errs = append(errs, a.webrtc.Close())
	}

	if a.recorder != nil {
		if a.recorder.IsRecording() {
			if path, err := a.recorder.Stop(); err != nil {
				errs = append(errs, err)
			} else {
				logger.Info("Main", "Recording saved to %s", path)
			}
		}
		errs = append(errs, a.recorder.Close())
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}

	if a.session != nil {
		sum := eventlog.Summarize(a.session.Events.Entries())
		logger.Info("Main", "Session %s: %d events (%s)", a.session.ID, sum.Total, formatCounts(sum.ByKind))
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.store.CloseSession(ctx, a.session.ID, now))
		cancel()
		errs = append(errs, a.store.Close())
	}

	return errors.Join(errs...)
}

func (a *App) closeSources() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Warn("Main", "Close source: %v", err)
		}
	}
	a.closers = nil
}

func formatCounts(byKind [types.NumKinds]int) string {
	parts := make([]string, 0, types.NumKinds)
	for _, kind := range types.AllKinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind.EventType(), byKind[kind]))
	}
	return strings.Join(parts, ", ")
}
