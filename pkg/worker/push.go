package worker

import (
	"context"
	"errors"

	"taskhooks/pkg/activity"
)

// PushProcessor records push deliveries.
type PushProcessor interface {
	Process(ctx context.Context, delivery activity.Delivery) (activity.Outcome, error)
}

// PushHandler feeds push events to processor. Payloads that can never be
// processed come back as Permanent errors.
func PushHandler(processor PushProcessor) Handler {
	return func(ctx context.Context, evt *Event) error {
		_, err := processor.Process(ctx, activity.Delivery{
			DeliveryID: evt.DeliveryID,
			RequestID:  evt.RequestID,
			Payload:    evt.Payload,
		})
		if errors.Is(err, activity.ErrInvalidPayload) {
			return Permanent(err)
		}
		return err
	}
}
