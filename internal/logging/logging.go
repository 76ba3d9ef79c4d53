// Package logging provides the structured logger shared by devbar packages.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	once   sync.Once
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger performs lazy initialization of the logger
func initLogger() {
	once.Do(func() {
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		config.DisableStacktrace = true
		config.Level = level

		l, err := config.Build()
		if err != nil {
			// Fallback to no-op logger instead of panicking
			l = zap.NewNop()
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
		}
		logger.Store(l)
	})
}

// SetLevel sets the logging level by name: debug, info, warn or error.
// Unknown names leave the level unchanged and return an error.
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return fmt.Errorf("logging: invalid level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}

// Enabled reports whether entries at lvl are currently logged.
func Enabled(lvl zapcore.Level) bool {
	return level.Enabled(lvl)
}

// GetLogger returns the structured logger
func GetLogger() *zap.Logger {
	initLogger()
	return logger.Load()
}

// Replace swaps the shared logger, e.g. for zaptest observers. It returns a
// function restoring the previous logger.
func Replace(l *zap.Logger) func() {
	initLogger()
	prev := logger.Swap(l)
	return func() { logger.Store(prev) }
}

// WithContext returns the logger annotated with trace_id and span_id when
// ctx carries a recording OpenTelemetry span.
func WithContext(ctx context.Context) *zap.Logger {
	l := GetLogger()
	if ctx == nil {
		return l
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return l
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// Sync flushes any buffered log entries
func Sync() error {
	return GetLogger().Sync()
}
