// Package logger is a leveled, module-tagged logger rendered through slog.
//
//	logger.Info("Pipeline", "frame %d processed", n)
//
// Each module can run at its own level, e.g. "Worker=debug,Store=warn".
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelInfo = [...]struct {
	name  string
	slog  slog.Level
	color string
}{
	DEBUG:  {"DEBUG", slog.LevelDebug, "\033[36m"},
	INFO:   {"INFO", slog.LevelInfo, "\033[32m"},
	WARN:   {"WARN", slog.LevelWarn, "\033[33m"},
	ERROR:  {"ERROR", slog.LevelError, "\033[31m"},
	SILENT: {"SILENT", slog.LevelError + 4, ""},
}

const resetColor = "\033[0m"

func (l LogLevel) valid() bool {
	return l >= DEBUG && l <= SILENT
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levelInfo[l].name
}

func (l LogLevel) slogLevel() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return levelInfo[l].slog
}

// Logger provides leveled logging with per-module levels
type Logger struct {
	mu      sync.RWMutex
	level   LogLevel
	modules map[string]LogLevel
	slog    *slog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		// filtering happens in log so module overrides can go below the base level
		Level: slog.LevelDebug,
	}
	if useColor {
		opts.ReplaceAttr = colorLevel
	}

	return &Logger{
		level:   level,
		modules: make(map[string]LogLevel),
		slog:    slog.New(slog.NewTextHandler(output, opts)),
	}
}

func colorLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	sl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	for _, info := range levelInfo {
		if info.slog == sl && info.color != "" {
			return slog.String(a.Key, info.color+sl.String()+resetColor)
		}
	}
	return a
}

// SetLevel changes the base log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the base log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetModuleLevel overrides the level of one module
func (l *Logger) SetModuleLevel(module string, level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[module] = level
}

// SetModuleLevels replaces all module overrides
func (l *Logger) SetModuleLevels(levels map[string]LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules = make(map[string]LogLevel, len(levels))
	for m, lv := range levels {
		l.modules[m] = lv
	}
}

// Enabled reports whether a message of level from module would be written
func (l *Logger) Enabled(level LogLevel, module string) bool {
	if level >= SILENT {
		return false
	}
	l.mu.RLock()
	min, ok := l.modules[module]
	if !ok {
		min = l.level
	}
	l.mu.RUnlock()
	return level >= min
}

// Slog exposes the underlying structured logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if !l.Enabled(level, module) {
		return
	}

	message := fmt.Sprintf(format, args...)
	ctx := context.Background()
	if module != "" {
		l.slog.Log(ctx, level.slogLevel(), message, slog.String("module", module))
		return
	}
	l.slog.Log(ctx, level.slogLevel(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Global logger functions. They are no-ops before Init.

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// SetModuleLevels replaces the global module overrides
func SetModuleLevels(levels map[string]LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetModuleLevels(levels)
	}
}

// Default returns the global logger, or nil before Init
func Default() *Logger {
	return defaultLogger
}

func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level name, ignoring case
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none", "off":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// ParseModuleLevels parses "Module=level,Other=level". Module names are
// case-sensitive and match the first argument of the log calls.
func ParseModuleLevels(s string) (map[string]LogLevel, error) {
	levels := make(map[string]LogLevel)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		module, name, ok := strings.Cut(part, "=")
		module = strings.TrimSpace(module)
		if !ok || module == "" {
			return nil, fmt.Errorf("invalid module level %q (want Module=level)", part)
		}
		level, err := ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", module, err)
		}
		levels[module] = level
	}
	return levels, nil
}

// FormatModuleLevels is the inverse of ParseModuleLevels, sorted by module
func FormatModuleLevels(levels map[string]LogLevel) string {
	parts := make([]string, 0, len(levels))
	for m, lv := range levels {
		parts = append(parts, m+"="+strings.ToLower(lv.String()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
