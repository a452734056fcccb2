// Package logging configures the process-wide slog logger.
//
// Everything is written to stderr: stdout carries MCP frames when the server
// runs over stdio and must never see a log line.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the default slog logger from RIO_LOG_LEVEL and
// RIO_LOG_FORMAT, overridden by -log-level / --log-level on the command line.
// It returns args with the flag stripped.
func InitLogging(args []string) []string {
	levelStr, remaining := levelFromArgs(os.Getenv("RIO_LOG_LEVEL"), args)
	slog.SetDefault(New(os.Stderr, ParseLevel(levelStr), os.Getenv("RIO_LOG_FORMAT")))
	return remaining
}

// New builds a logger writing to w. format is "json" or anything else for text.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelFromArgs(def string, args []string) (string, []string) {
	level := def
	if level == "" {
		level = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if v, ok := strings.CutPrefix(arg, "--log-level="); ok {
			level = v
			continue
		}
		if v, ok := strings.CutPrefix(arg, "-log-level="); ok {
			level = v
			continue
		}

		// -log-level value / --log-level value
		if arg == "-log-level" || arg == "--log-level" {
			if i+1 < len(args) {
				level = args[i+1]
				i++
			}
			continue
		}

		remaining = append(remaining, arg)
	}
	return level, remaining
}
