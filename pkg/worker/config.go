package worker

import (
	"time"

	"taskhooks/internal"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// SubscriberConfig holds the configuration for a Watermill subscriber.
type SubscriberConfig struct {
	Driver  string
	Drivers []string

	GoChannel internal.GoChannelConfig
	Kafka     internal.KafkaConfig
	NATS      NATSConfig
	AMQP      internal.AMQPConfig
	SQL       internal.SQLConfig

	// PubSub is the in-process channel shared with the publisher. Without
	// it a gochannel subscriber would never see published messages.
	PubSub *gochannel.GoChannel

	BuildAttempts int
	BuildDelay    time.Duration
}

// NATSConfig holds configuration for the NATS streaming subscriber. The
// suffix keeps the worker's client id distinct from the publisher's.
type NATSConfig struct {
	internal.NATSConfig
	ClientIDSuffix string
}
