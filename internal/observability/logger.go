// Package observability provides structured logging for clipdock.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/clipdock/clipdock/internal/config"
)

// contextKey keeps our context values from colliding with other packages.
type contextKey string

const (
	// RequestIDKey carries the per-request correlation id.
	RequestIDKey contextKey = "request_id"
	// loggerKey carries the request-scoped logger.
	loggerKey contextKey = "logger"
)

// NewLogger builds a slog.Logger from cfg, writing to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter builds a slog.Logger that writes to w. Tests pass a
// buffer here; everything else goes through NewLogger.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: attrReplacer(cfg.TimeFormat),
	}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// attrReplacer rewrites record attributes: timestamps take the configured
// layout, and credential-bearing fields are masked before they reach the
// handler. Auth tokens, webhook secrets and anything under a "secret" prefix
// must never appear in log output.
func attrReplacer(timeFormat string) func([]string, slog.Attr) slog.Attr {
	redact := masq.New(
		masq.WithFieldName("Authorization"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("Tokens"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("Secret"),
		masq.WithFieldPrefix("secret"),
	)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && timeFormat != "" {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(timeFormat))
			}
		}
		return redact(groups, a)
	}
}

// parseLevel maps a configured level name onto slog.Level. Unrecognized
// values fall back to info rather than failing startup.
func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// WithComponent returns a logger tagged with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError returns a logger carrying err as an attribute. A nil err returns
// logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// ContextWithLogger stores logger in ctx for LoggerFromContext to retrieve.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, or the process default
// when none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithRequestID stores the request correlation id in ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFromContext returns the correlation id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// TimedOperation logs the start of a named operation and returns a func that
// logs its completion with the elapsed duration. Defer the returned func:
//
//	done := observability.TimedOperation(ctx, logger, "orphan_sweep")
//	defer done()
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))
	start := time.Now()

	return func() {
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)))
	}
}
