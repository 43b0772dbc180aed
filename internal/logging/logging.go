// ABOUTME: Structured logger construction shared by all binaries
// ABOUTME: Wraps charmbracelet/log with timestamp reporting and level parsing
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps enabled.
//
// The writer defaults to [os.Stderr]
func New(w io.Writer, level log.Level) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	l.SetLevel(level)
	return l
}

// ParseLevel maps a config level name to a [log.Level]
func ParseLevel(name string) (log.Level, error) {
	if name == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// Component derives a child logger tagged with a component name
func Component(l *log.Logger, name string) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	return l.With("component", name)
}
