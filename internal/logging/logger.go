package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger with the specified level.
// JSON output is used when json is set; otherwise a colored console encoder.
func NewLogger(level string, json bool) (*zap.Logger, error) {
	zapLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.DisableStacktrace = zapLevel > zapcore.ErrorLevel

	if !json {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// NewContextLogger creates a logger with service context fields
func NewContextLogger(baseLogger *zap.Logger, serviceName, version string) *zap.Logger {
	return baseLogger.With(
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.Int("pid", os.Getpid()),
	)
}

// SyncLogger creates a logger for sync engine operations
func SyncLogger(baseLogger *zap.Logger) *zap.Logger {
	return baseLogger.With(zap.String("component", "sync"))
}

// HTTPLogger creates a logger for HTTP operations
func HTTPLogger(baseLogger *zap.Logger) *zap.Logger {
	return baseLogger.With(zap.String("component", "http"))
}

// DatabaseLogger creates a logger for database operations
func DatabaseLogger(baseLogger *zap.Logger) *zap.Logger {
	return baseLogger.With(zap.String("component", "database"))
}

// EventLogger creates a logger for event publishing
func EventLogger(baseLogger *zap.Logger) *zap.Logger {
	return baseLogger.With(zap.String("component", "events"))
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
