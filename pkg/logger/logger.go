// Package logger provides the structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Logger wraps logrus so call sites can chain WithField/WithError.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(outputFor(cfg.Output))
	base.AddHook(componentHook{})
	return &Logger{Logger: base}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info"}).Named(component)
}

// Named returns a logger sharing the same sink but tagged with another component.
func (l *Logger) Named(component string) *Logger {
	child := &logrus.Logger{
		Out:          l.Out,
		Hooks:        make(logrus.LevelHooks),
		Formatter:    l.Formatter,
		ReportCaller: l.ReportCaller,
		Level:        l.GetLevel(),
		ExitFunc:     l.ExitFunc,
	}
	child.AddHook(componentHook{component: component})
	return &Logger{Logger: child, component: component}
}

// Component reports the component tag, if any.
func (l *Logger) Component() string {
	return l.component
}

// Discard returns a logger that drops everything. Useful in tests and examples.
func Discard() *Logger {
	l := New(LoggingConfig{Level: "panic"})
	l.SetOutput(io.Discard)
	return l
}

func outputFor(target string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok && h.component != "" {
		entry.Data["component"] = h.component
	}
	if entry.Context != nil {
		if id := TraceID(entry.Context); id != "" {
			if _, ok := entry.Data["trace_id"]; !ok {
				entry.Data["trace_id"] = id
			}
		}
	}
	return nil
}
