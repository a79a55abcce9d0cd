// Package obslog provides the structured logging conventions shared by every
// LabBook component: one logrus-backed logger, field-scoped child loggers,
// and a timing helper for wrapping an operation.
package obslog

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls how the root logger is built.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	AddCaller bool
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// New builds the root logrus.Logger for the given config.
func New(cfg Config) *logrus.Logger {
	l := logrus.New()

	switch cfg.Level {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	l.SetReportCaller(cfg.AddCaller)
	return l
}

// Logger is a field-scoped wrapper around a logrus entry, one per component
// (detailstore, activitystore, labbook, dispatcher, portlock, workflow, ...).
type Logger struct {
	entry *logrus.Entry
}

// Component returns a child logger tagged with the given component name.
func Component(root *logrus.Logger, name string) *Logger {
	return &Logger{entry: root.WithField("component", name)}
}

// With returns a child logger with additional fields merged in.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// WithErr returns a child logger annotated with an error.
func (l *Logger) WithErr(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Timed runs fn, logging its duration at Debug (Warn if it exceeds
// warnAfter, Error with the error if fn fails).
func Timed(l *Logger, op string, warnAfter time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	entry := l.With(map[string]interface{}{
		"op":          op,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		entry.WithErr(err).Errorf("%s failed", op)
		return err
	}
	if warnAfter > 0 && elapsed > warnAfter {
		entry.Warnf("%s took longer than expected (%s > %s)", op, elapsed, warnAfter)
	} else {
		entry.Debugf("%s completed", op)
	}
	return nil
}

// Recover logs a panic without re-raising it, for use in a deferred call.
func Recover(l *Logger, context string) {
	if r := recover(); r != nil {
		l.With(map[string]interface{}{"panic": fmt.Sprintf("%v", r), "context": context}).Errorf("recovered panic")
	}
}
