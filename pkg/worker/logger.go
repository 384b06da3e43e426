package worker

import (
	"taskhooks/internal"

	"go.uber.org/zap"
)

func defaultLogger() *zap.Logger {
	return internal.NewLogger("worker")
}

func eventFields(evt *Event) []zap.Field {
	if evt == nil {
		return nil
	}
	return []zap.Field{
		zap.String("topic", evt.Topic),
		zap.String("event", evt.Type),
		zap.String("delivery_id", evt.DeliveryID),
		zap.String("request_id", evt.RequestID),
		zap.String("repository", evt.Repository),
	}
}
