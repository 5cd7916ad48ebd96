// Package logging wraps a process-wide zap logger and stamps entries with the
// trace id carried by the context.
package logging

import (
	"context"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Setup builds the global logger. format is "json" or "console".
func Setup(level, format, service string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		return nil, err
	}
	global.Store(l)
	return l, nil
}

// Use replaces the global logger; tests pass zaptest or observer loggers.
func Use(l *zap.Logger) { global.Store(l) }

func L() *zap.Logger { return global.Load() }

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields, zap.String("trace_id", sc.TraceID().String()))
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, withTrace(ctx, fields)...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, withTrace(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, withTrace(ctx, fields)...)
}

func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	L().Error(msg, withTrace(ctx, append(fields, zap.Error(err)))...)
}

func Sync() { _ = L().Sync() }
