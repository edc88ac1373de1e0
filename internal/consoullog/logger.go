// Package consoullog wraps log/slog with ambient-context field extraction
// and redaction-before-serialization, grounded on
// internal/observability/logging.go's Logger.log() pattern.
package consoullog

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/goatbytes/consoul/internal/redact"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "correlation_id"
	sessionIDKey     ctxKey = "session_id"
)

// WithCorrelationID returns a context carrying the correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID extracts the correlation ID from ctx, or "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the session ID from ctx, or "" if absent.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// Config configures a Logger.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    *os.File
	Redactor  *redact.Redactor
}

// Logger is a redaction-aware structured logger.
type Logger struct {
	logger   *slog.Logger
	redactor *redact.Redactor
}

// New builds a Logger from config, defaulting to stdout JSON at info level.
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Redactor == nil {
		config.Redactor = redact.New(nil, nil, 0)
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: config.Level}
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return &Logger{logger: slog.New(handler), redactor: config.Redactor}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+4)
	if cid := CorrelationID(ctx); cid != "" {
		attrs = append(attrs, slog.String("correlation_id", cid))
	}
	if sid := SessionID(ctx); sid != "" {
		attrs = append(attrs, slog.String("session_id", sid))
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, l.redactor.Value(args[i+1])))
	}
	l.logger.Log(ctx, level, l.redactor.String(msg), attrs...)
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }
