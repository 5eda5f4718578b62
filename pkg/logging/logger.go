// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ConfigFromEnv overlays LOG_LEVEL and LOG_PRETTY onto DefaultConfig.
// getenv is usually os.Getenv.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(strings.ToLower(level))
	}
	if pretty, err := strconv.ParseBool(getenv("LOG_PRETTY")); err == nil {
		cfg.Pretty = pretty
	}
	return cfg
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, refresh)
//   - Request flow (conditional requests, ETags)
//   - Page fetches started by a cycle or a worker
//
// Info: Normal operation events
//   - Completed comment cycles
//   - 304 Not Modified responses
//   - Batch fetch progress
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Comments fallback rendered ("not open yet")
//   - Missing issue metadata
//   - Malformed Link header entries
//   - Cache errors (request continues uncached)
//
// Error: Error conditions requiring attention
//   - Widget mutations that failed
//   - Redis unavailable at startup
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - repo, issue, page: comment thread being loaded
//   - endpoint: GitHub endpoint label (issue, comments)
//   - status_code: HTTP status code
//   - error_class: client, server, network, decode
//   - state: final cycle state
//   - duration: request or cycle duration
