package listener

import (
	"context"
	"encoding/json"
	"time"

	"realtalk-service/event"

	"go.uber.org/zap"
)

// Deliverer fans a persisted message out to live connections.
type Deliverer interface {
	DeliverStored(ctx context.Context, messageID string) (int, error)
}

type messageCreated struct {
	MessageID string `json:"message_id"`
}

// Api consumes actions published for this service by other services until
// ctx ends or deliveries is closed.
func Api(ctx context.Context, deliveries <-chan event.Delivery, router Deliverer, timeout time.Duration, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			handle(ctx, d, router, timeout, logger)
		}
	}
}

func handle(ctx context.Context, d event.Delivery, router Deliverer, timeout time.Duration, logger *zap.Logger) {
	switch d.Action {
	case event.ActionMessageCreated:
		var payload messageCreated
		if err := json.Unmarshal(d.Data, &payload); err != nil || payload.MessageID == "" {
			logger.Warn("malformed event dropped", zap.String("action", d.Action))
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := router.DeliverStored(ctx, payload.MessageID)
		if err != nil {
			logger.Warn("event delivery failed", zap.String("message", payload.MessageID), zap.Error(err))
			return
		}
		logger.Debug("event delivered", zap.String("message", payload.MessageID), zap.Int("connections", n))
	default:
		logger.Debug("unhandled action", zap.String("action", d.Action))
	}
}
