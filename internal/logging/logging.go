package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root logger. Components derive their own loggers from
// it with .With().Str("component", ...).
func Setup(level string, pretty bool) zerolog.Logger {
	var parsed zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		parsed = zerolog.DebugLevel
	case "warn":
		parsed = zerolog.WarnLevel
	case "error":
		parsed = zerolog.ErrorLevel
	default:
		parsed = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(parsed).With().Timestamp().Logger()
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// GenerateTraceID returns a random 32-hex-char trace id.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithTrace stamps a new trace id onto the context and the logger.
func WithTrace(ctx context.Context, logger zerolog.Logger) (context.Context, zerolog.Logger) {
	traceID := GenerateTraceID()
	return context.WithValue(ctx, traceIDKey, traceID),
		logger.With().Str("trace_id", traceID).Logger()
}

// TraceID returns the context's trace id, or "" when absent.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
