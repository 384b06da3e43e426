package worker

import (
	"encoding/json"
	"errors"

	"taskhooks/internal"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	// Decode transforms a Watermill message into an Event.
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes messages produced by internal.Publisher: the body is
// the raw webhook payload and routing details travel in metadata.
type DefaultCodec struct{}

// Decode unmarshals a Watermill message into an Event.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	if len(msg.Payload) == 0 {
		return nil, errors.New("empty message payload")
	}
	var normalized map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &normalized); err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	deliveryID := metadata[internal.MetadataDeliveryID]
	if deliveryID == "" {
		deliveryID = msg.UUID
	}
	return &Event{
		Provider:   metadata[internal.MetadataProvider],
		Type:       metadata[internal.MetadataEvent],
		Topic:      topic,
		DeliveryID: deliveryID,
		RequestID:  metadata[internal.MetadataRequestID],
		Repository: metadata[internal.MetadataRepository],
		Metadata:   metadata,
		Payload:    json.RawMessage(msg.Payload),
		Normalized: normalized,
	}, nil
}
