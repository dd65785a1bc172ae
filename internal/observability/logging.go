package observability

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var defaultLevel atomic.Int32

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	defaultLevel.Store(int32(zerolog.InfoLevel))
}

// SetDefaultLevel sets the level used by NewLogger when PREDICT_LOG_LEVEL
// is unset. Call it before creating loggers.
func SetDefaultLevel(name string) {
	defaultLevel.Store(int32(ParseLogLevel(name)))
}

// NewLogger creates a structured JSON logger writing to stdout.
// PREDICT_LOG_LEVEL wins over the configured default.
func NewLogger(component string) zerolog.Logger {
	level := zerolog.Level(defaultLevel.Load())
	if v := os.Getenv("PREDICT_LOG_LEVEL"); v != "" {
		level = ParseLogLevel(v)
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a level name to zerolog, defaulting to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithCommand returns a child logger tagged with a command's identity.
func WithCommand(log zerolog.Logger, commandType, key string, marketID *uint64) zerolog.Logger {
	ctx := log.With().Str("command_type", commandType).Str("idempotency_key", key)
	if marketID != nil {
		ctx = ctx.Uint64("market_id", *marketID)
	}
	return ctx.Logger()
}
