// Package logging defines the Logger interface shared across every
// component, plus a NoOpLogger and a charmbracelet/log-backed default.
// Grounded on the teacher's pkg/orchestrator.Logger/NoOpLogger shape.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the logging capability every component is constructed with.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards every call. Useful in tests that don't want log
// output cluttering results.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// CharmLogger wraps charmbracelet/log for structured, leveled output to
// standard error.
type CharmLogger struct {
	l *charmlog.Logger
}

// New builds a CharmLogger writing to stderr at the given level name
// ("debug", "info", "warn", "error"; unrecognized defaults to "info").
func New(levelName string) *CharmLogger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           parseLevel(levelName),
	})
	return &CharmLogger{l: l}
}

func parseLevel(name string) charmlog.Level {
	switch name {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func (c *CharmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *CharmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *CharmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *CharmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }
