package push

import (
	"context"

	"go.uber.org/zap"

	"notifyengine/pkg/logger"
)

// LogTransport only logs messages. It is used for local runs without a
// gateway.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if msg.DeviceToken == "" {
		return NewError(CodeNoDeliveryTarget, nil)
	}
	logger.WithTrace(ctx, t.logger).Info("Push message",
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.String("priority", string(msg.Priority)),
	)
	return nil
}
