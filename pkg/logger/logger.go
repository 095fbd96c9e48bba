package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"notifyengine/pkg/config"
	"notifyengine/pkg/trace"
)

// NewLogger builds the process logger. Development mode switches to the
// console encoder; the level string falls back to info when unparseable.
func NewLogger(cfg config.LogConfig) *zap.Logger {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace attaches the trace_id from ctx to logger.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
