package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	contractmq "notifyengine/contracts/mq"
	"notifyengine/internal/trigger"
	"notifyengine/pkg/mq"
)

// StartConsumers binds one queue per trigger routing key and consumes until
// ctx is done. The caller closes the returned consumers.
func (c *Components) StartConsumers(ctx context.Context) ([]*mq.Consumer, error) {
	handlers := trigger.NewHandlers(c.Adapter, c.Logger)
	bindings := []struct {
		routingKey string
		handler    mq.MessageHandler
	}{
		{contractmq.RoutingSessionStatusChanged, handlers.SessionStatusChanged},
		{contractmq.RoutingAnalysisReady, handlers.AnalysisReady},
		{contractmq.RoutingCampaignLaunched, handlers.CampaignLaunched},
	}

	cfg := c.Config.Consumers
	consumers := make([]*mq.Consumer, 0, len(bindings))
	for _, b := range bindings {
		queue := fmt.Sprintf("%s.%s.q", cfg.QueuePrefix, b.routingKey)
		consumer, err := mq.NewConsumer(c.Config.MQ.URL, queue, b.routingKey, cfg.Prefetch, c.Logger)
		if err != nil {
			for _, started := range consumers {
				started.Close()
			}
			return nil, fmt.Errorf("init consumer %s: %w", b.routingKey, err)
		}
		consumer.SetHandler(b.handler)
		consumers = append(consumers, consumer)

		go func(routingKey string) {
			if err := consumer.StartConsuming(ctx); err != nil {
				c.Logger.Error("Consumer stopped", zap.String("routing_key", routingKey), zap.Error(err))
			}
		}(b.routingKey)
	}
	return consumers, nil
}
