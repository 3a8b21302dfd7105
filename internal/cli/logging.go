package cli

import (
	"io"
	"log/slog"
	"strings"
)

func parseLogFlags(level, format string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return invalidInvocationf("invalid --log-level %q (expected debug|info|warn|error)", level)
	}
	switch strings.ToLower(format) {
	case "text", "json":
		return nil
	default:
		return invalidInvocationf("invalid --log-format %q (expected text|json)", format)
	}
}

// newLogger builds the run logger. Flags were validated by ParseInvocation;
// unparsable values fall back to info and text.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
