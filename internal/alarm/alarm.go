// Package alarm plays the audible warning when an alert timer fires.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// ErrSoundMissing is reported when the configured sound file does not exist
var ErrSoundMissing = errors.New("alarm sound file missing")

// DefaultDuration bounds a single playback
const DefaultDuration = 3 * time.Second

// SoundPlaceholder is substituted with the sound path in Command
const SoundPlaceholder = "{sound}"

// Config configures the playback command
type Config struct {
	Sound    string            // default sound file
	Sounds   map[string]string // per-kind override, keyed by AlertKind.String()
	Command  []string          // argv, SoundPlaceholder marks the file argument
	Duration time.Duration     // playback is killed after this long
}

// DefaultConfig returns the stock player settings
func DefaultConfig() Config {
	return Config{
		Sound:    "alarm.wav",
		Command:  []string{"aplay", "-q", SoundPlaceholder},
		Duration: DefaultDuration,
	}
}

// Player runs one external player process per trigger. Trigger never
// blocks; overlapping triggers get their own process.
type Player struct {
	cfg     Config
	onError func(kind types.AlertKind, err error)
	wg      sync.WaitGroup
}

// New creates a player. onError may be nil.
func New(cfg Config, onError func(kind types.AlertKind, err error)) *Player {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultConfig().Command
	}
	return &Player{cfg: cfg, onError: onError}
}

// SoundFor returns the sound file used for kind
func (p *Player) SoundFor(kind types.AlertKind) string {
	if s, ok := p.cfg.Sounds[kind.String()]; ok && s != "" {
		return s
	}
	return p.cfg.Sound
}

// Trigger starts playback for kind and returns immediately
func (p *Player) Trigger(kind types.AlertKind) {
	sound := p.SoundFor(kind)
	if _, err := os.Stat(sound); err != nil {
		p.report(kind, fmt.Errorf("%w: %s", ErrSoundMissing, sound))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.play(sound); err != nil {
			p.report(kind, err)
		}
	}()
}

// Wait blocks until every in-flight playback has finished
func (p *Player) Wait() {
	p.wg.Wait()
}

func (p *Player) play(sound string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Duration)
	defer cancel()

	args := make([]string, len(p.cfg.Command))
	for i, a := range p.cfg.Command {
		args[i] = strings.ReplaceAll(a, SoundPlaceholder, sound)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		// Cut off at the playback bound
		return nil
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	return nil
}

func (p *Player) report(kind types.AlertKind, err error) {
	logger.Warn("Alarm", "%s alarm failed: %v", kind, err)
	if p.onError != nil {
		p.onError(kind, err)
	}
}

// Silent logs triggers without producing sound
type Silent struct{}

// Trigger logs the alarm
func (Silent) Trigger(kind types.AlertKind) {
	logger.Info("Alarm", "%s alarm (silent)", kind)
}
