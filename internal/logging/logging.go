// Package logging builds the process zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger. Empty arguments fall back to LOG_LEVEL and
// LOG_ENCODING, then to info and json.
func New(level, encoding string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if encoding == "" {
		encoding = os.Getenv("LOG_ENCODING")
	}
	if encoding == "" {
		encoding = "json"
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	if cfg.Level.Level() == zap.DebugLevel {
		cfg.Development = true
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// ParseLevel maps a level name to a zap level. Unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
