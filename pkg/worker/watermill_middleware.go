package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill runs a watermill handler middleware, such as
// middleware.Recoverer, around a worker handler.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			id := evt.DeliveryID
			if id == "" {
				id = watermill.NewUUID()
			}
			msg := message.NewMessage(id, message.Payload(evt.Payload))
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			msg.SetContext(ctx)
			wrapped := m(func(_ *message.Message) ([]*message.Message, error) {
				return nil, next(ctx, evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}
