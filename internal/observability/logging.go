// Package observability provides logging, metrics, and gRPC instrumentation.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
)

// ServiceName is attached to every json log line as the "service" field.
const ServiceName = "tabletop-hub"

// Logging is the root logger together with the level it was built with.
// Level serves GET and PUT over HTTP, so the level can change at runtime.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// NewLogging builds the root logger for cfg.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error";
// cfg.Format must be "json" or "console".
// Postcondition: Returns a Logging whose Level controls Logger, or a non-nil error.
func NewLogging(cfg config.LoggingConfig) (*Logging, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		zapCfg.InitialFields = map[string]any{"service": ServiceName}
		zapCfg.EncoderConfig.MessageKey = "message"
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = level
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Every delivery failure is logged; no sampling.
	zapCfg.Sampling = nil

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return &Logging{Logger: logger, Level: level}, nil
}

// NewLogger is NewLogging for callers that never change the level.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	l, err := NewLogging(cfg)
	if err != nil {
		return nil, err
	}
	return l.Logger, nil
}
