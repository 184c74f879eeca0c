package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger writes diagnostic lines to .arlo/logs/arlo.log so failures can be
// inspected after the terminal UI has closed.
type Logger struct {
	file  *os.File
	entry *logrus.Entry
}

// New creates (or reuses) the log file in logDir at the given level.
func New(logDir, level string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "arlo.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := NewWithWriter(f, level)
	l.file = f
	return l, nil
}

// NewWithWriter builds a logger on an arbitrary writer.
func NewWithWriter(w io.Writer, level string) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	base.SetLevel(ParseLevel(level))
	return &Logger{entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

// ParseLevel maps a config level to logrus, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warning", "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// With returns a child logger carrying a field.
func (l *Logger) With(key string, value any) *Logger {
	if l == nil || l.entry == nil {
		return l
	}
	return &Logger{file: l.file, entry: l.entry.WithField(key, value)}
}

// Printf writes an info line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Infof(strings.TrimRight(format, "\n"), args...)
}

// Debugf writes a debug line.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

// Errorf writes an error line.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Errorf(format, args...)
}
