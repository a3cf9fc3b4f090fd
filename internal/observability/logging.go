package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds the process logger. format "text" gives colored console
// output for local runs; anything else is JSON.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "text") {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
