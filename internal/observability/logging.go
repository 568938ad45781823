// Package observability wires structured logging, Prometheus metrics,
// OpenTelemetry tracing and health endpoints for the BFF.
package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. LogFormat "console" switches to a
// human-readable encoder for local runs; anything else logs JSON to stdout.
// Every entry carries the service name and build version.
//
// Levels: error for infrastructure faults and 5xx, warn for 4xx, backend 401s,
// an open breaker and label fallbacks, info for logins, approvals, lot
// transitions and sync passes, debug for cache traffic and redacted payloads.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": "clamflow-bff",
			"version": Version,
		},
	}.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with the caller's identity and
// correlation id. If no logger is in the context, the fallback is used.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("correlation_id", rctx.CorrelationID),
		zap.String("session_id", rctx.SessionID),
		zap.String("user_id", rctx.UserID),
		zap.String("role", rctx.Role.Slug()),
	}
	if rctx.Station != "" {
		fields = append(fields, zap.String("station", rctx.Station))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveFields are always masked. Signatures and face captures are
// base64 images that must never reach the log sink.
var sensitiveFields = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "face_image", "signature",
}

// RedactBody returns a deep copy of body with sensitive keys masked. Keys
// match case-insensitively; extra names extend the built-in list. Nested
// objects and arrays, such as PPC box lists, are walked.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	mask := make(map[string]struct{}, len(sensitiveFields)+len(extra))
	for _, f := range sensitiveFields {
		mask[f] = struct{}{}
	}
	for _, f := range extra {
		mask[strings.ToLower(f)] = struct{}{}
	}
	return redactMap(body, mask)
}

func redactMap(in map[string]any, mask map[string]struct{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, hide := mask[strings.ToLower(k)]; hide {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, mask)
	}
	return out
}

func redactValue(v any, mask map[string]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val, mask)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = redactValue(item, mask)
		}
		return items
	case []map[string]any:
		items := make([]map[string]any, len(val))
		for i, item := range val {
			items[i] = redactMap(item, mask)
		}
		return items
	default:
		return v
	}
}
