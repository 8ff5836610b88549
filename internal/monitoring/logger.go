// Package monitoring holds the collector's diagnostic logger.
package monitoring

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logf is the package-level diagnostic logger used by every collector task. It
// defaults to log.Printf but may be replaced by SetLogger or UseSlog. Tests mute
// it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewLogger builds the slog logger used by the hivemind binary: a tint handler
// writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	}))
}

// UseSlog routes Logf and the standard library log package through l. Messages
// starting with "warning:" or "error:" are raised to the matching level.
func UseSlog(l *slog.Logger) {
	slog.SetDefault(l)
	Logf = func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		l.Log(context.Background(), levelOf(msg), msg)
	}
}

func levelOf(msg string) slog.Level {
	lower := strings.ToLower(msg)
	switch {
	case strings.HasPrefix(lower, "error:"):
		return slog.LevelError
	case strings.HasPrefix(lower, "warning:"), strings.HasPrefix(lower, "warn:"):
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
