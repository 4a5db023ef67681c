// Package logging holds the process-wide structured logger.
//
// Every log line goes to stderr. Stdout belongs to the protocol stream of a
// stdio server and must carry nothing but protocol messages.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// EnvVar selects the log level: 0=error, 1=warn, 2=info, 3=debug. The level
// names are accepted too.
const EnvVar = "GO_MCPSERVER_DEBUG"

var (
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
)

func init() {
	level := parseLogLevel(os.Getenv(EnvVar))
	logLevel.Set(level)

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger = slog.New(handler)
}

// Logger returns the global logger instance.
func Logger() *slog.Logger {
	return logger
}

// Component returns the global logger tagged with a component attribute.
func Component(name string) *slog.Logger {
	return logger.With("component", name)
}

// SetLogLevel sets the global log level for the entire library.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// parseLogLevel converts GO_MCPSERVER_DEBUG values to slog levels.
// Default: Warn if not set or invalid
func parseLogLevel(envVal string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(envVal)) {
	case "0", "error":
		return slog.LevelError
	case "1", "warn":
		return slog.LevelWarn
	case "2", "info":
		return slog.LevelInfo
	case "3", "debug":
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}
