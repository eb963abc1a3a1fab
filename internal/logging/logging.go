// Package logging is the level-gated line logger shared by every sakina
// component. Lines look like:
//
//	2026-03-10T13:00:00+03:00 INFO alarm: armed timers=5 window=13:00
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLevel maps a config string to a level. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes component-tagged lines at or above its level.
type Logger struct {
	logger    *log.Logger
	level     LogLevel
	component string
	now       func() time.Time
}

func New(w io.Writer, level LogLevel, component string) *Logger {
	return &Logger{
		logger:    log.New(w, "", 0),
		level:     level,
		component: component,
		now:       time.Now,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LogLevelError+1, "")
}

// OpenFile appends to path, creating parent directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return f, nil
}

// With returns a logger sharing the writer and level under another component name.
func (l *Logger) With(component string) *Logger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *Logger) Level() LogLevel { return l.level }

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", l.now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.Log(LogLevelError, format, args...) }
