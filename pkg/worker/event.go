package worker

import "encoding/json"

// Event represents a message received by the worker.
type Event struct {
	// Provider is the webhook source, "github" for pushes.
	Provider string `json:"provider"`
	// Type is the webhook event name, e.g. "push".
	Type string `json:"type"`
	// Topic is the name of the topic the message was received on.
	Topic      string `json:"topic"`
	DeliveryID string `json:"delivery_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Repository string `json:"repository,omitempty"`
	// Metadata contains message-broker-specific metadata.
	Metadata map[string]string `json:"metadata"`
	// Payload is the verified webhook body, byte for byte.
	Payload json.RawMessage `json:"payload"`
	// Normalized is the decoded JSON payload of the event.
	Normalized map[string]interface{} `json:"normalized"`
}
