package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
	"go.uber.org/zap"
)

// Publisher dispatches verified events to topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error
	Close() error
}

type watermillPublisher struct {
	publisher message.Publisher
	closeFn   func() error
	retry     PublishRetryConfig
}

// PublisherFactory builds a watermill publisher for a custom driver name.
type PublisherFactory func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var publisherFactories = map[string]PublisherFactory{
	"gochannel": buildGoChannelPublisher,
}

// RegisterPublisherDriver makes factory available as a watermill driver.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	if name == "" || factory == nil {
		return
	}
	publisherFactories[strings.ToLower(name)] = factory
}

// PublisherOption customizes NewPublisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	river      *RiverQueue
	buildTries int
	buildDelay time.Duration
}

// WithRiverQueue routes the riverqueue driver through an already started
// queue instead of opening a new insert-only client.
func WithRiverQueue(queue *RiverQueue) PublisherOption {
	return func(o *publisherOptions) {
		o.river = queue
	}
}

// WithBuildRetry bounds how often a driver is retried while connecting.
func WithBuildRetry(attempts int, delay time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		o.buildTries = attempts
		o.buildDelay = delay
	}
}

// NewPublisher builds one publisher per configured driver. Drivers that fail
// to initialize are logged and skipped; at least one must succeed.
func NewPublisher(cfg WatermillConfig, logger *zap.Logger, opts ...PublisherOption) (Publisher, error) {
	if logger == nil {
		logger = NewLogger("publisher")
	}
	options := publisherOptions{buildTries: 10, buildDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	drivers := cfg.Drivers
	if len(drivers) == 0 && cfg.Driver != "" {
		drivers = []string{cfg.Driver}
	}
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}

	pubs := make(map[string]Publisher, len(drivers))
	builtDrivers := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		key := strings.ToLower(strings.TrimSpace(driver))
		pub, err := retryBuild(options.buildTries, options.buildDelay, func() (Publisher, error) {
			return newSinglePublisher(cfg, key, logger, options)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", zap.String("driver", key), zap.Error(err))
			continue
		}
		pubs[key] = pub
		builtDrivers = append(builtDrivers, key)
	}
	if len(pubs) == 0 {
		return nil, errors.New("no publishers available")
	}
	return &publisherMux{publishers: pubs, defaultDrivers: builtDrivers, logger: logger}, nil
}

func newSinglePublisher(cfg WatermillConfig, driver string, logger *zap.Logger, options publisherOptions) (Publisher, error) {
	wmLogger := NewWatermillLogger(logger.With(zap.String("driver", driver)))

	wrap := func(pub message.Publisher, closeFn func() error) Publisher {
		return &watermillPublisher{publisher: pub, closeFn: closeFn, retry: cfg.PublishRetry}
	}

	switch driver {
	case "riverqueue", "river":
		if options.river != nil {
			return &riverPublisher{queue: options.river}, nil
		}
		queue, err := NewRiverQueue(context.Background(), cfg.RiverQueue, nil, logger)
		if err != nil {
			return nil, err
		}
		return &riverPublisher{queue: queue, owned: true}, nil
	case "http":
		targetMode := strings.ToLower(cfg.HTTP.Mode)
		if targetMode != "topic_url" && targetMode != "base_url" {
			return nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if targetMode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("http base_url is required for base_url mode")
		}
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, wmLogger)
		if err != nil {
			return nil, err
		}
		return wrap(pub, nil), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required")
		}
		pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, kafkaMarshaler(), nil, wmLogger)
		if err != nil {
			return nil, err
		}
		return wrap(pub, nil), nil
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, fmt.Errorf("nats cluster_id and client_id are required")
		}
		natsCfg := wmnats.StreamingPublisherConfig{
			ClusterID: cfg.NATS.ClusterID,
			ClientID:  cfg.NATS.ClientID,
			Marshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(natsCfg, wmLogger)
		if err != nil {
			return nil, err
		}
		return wrap(pub, nil), nil
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, fmt.Errorf("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := wmamaqp.NewPublisher(amqpCfg, wmLogger)
		if err != nil {
			return nil, err
		}
		return wrap(pub, nil), nil
	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, fmt.Errorf("sql driver and dsn are required")
		}
		schemaAdapter, err := sqlSchemaAdapter(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		autoInit := cfg.SQL.AutoInitializeSchema || cfg.SQL.InitializeSchema
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        schemaAdapter,
			AutoInitializeSchema: autoInit,
		}, wmLogger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return wrap(pub, db.Close), nil
	default:
		if factory, ok := publisherFactories[driver]; ok {
			pub, closeFn, err := factory(cfg, wmLogger)
			if err != nil {
				return nil, err
			}
			return wrap(pub, closeFn), nil
		}
		return nil, fmt.Errorf("unsupported watermill driver: %s", driver)
	}
}

// kafkaMarshaler keys messages by repository so pushes to one repository
// land on one partition and keep their order.
func kafkaMarshaler() wmkafka.MarshalerUnmarshaler {
	return wmkafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(MetadataRepository), nil
	})
}

func retryBuild(attempts int, delay time.Duration, build func() (Publisher, error)) (Publisher, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}

// newMessage wraps the verified payload. The body is forwarded untouched and
// everything a consumer needs to route it travels in metadata.
func newMessage(ctx context.Context, event Event) *message.Message {
	id := event.DeliveryID
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, event.RawPayload)
	for key, value := range event.Metadata() {
		msg.Metadata.Set(key, value)
	}
	msg.SetContext(ctx)
	return msg
}

func (w *watermillPublisher) Publish(ctx context.Context, topic string, event Event) error {
	attempts := w.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(w.retry.DelayMS) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = w.publisher.Publish(topic, newMessage(ctx, event)); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

func (w *watermillPublisher) Close() error {
	if w.publisher == nil {
		return nil
	}
	err := w.publisher.Close()
	if w.closeFn != nil {
		return errors.Join(err, w.closeFn())
	}
	return err
}

func (w *watermillPublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return w.Publish(ctx, topic, event)
}

type publisherMux struct {
	publishers     map[string]Publisher
	defaultDrivers []string
	logger         *zap.Logger
}

func (m *publisherMux) Publish(ctx context.Context, topic string, event Event) error {
	return m.PublishForDrivers(ctx, topic, event, nil)
}

// PublishForDrivers fans out to drivers (all built drivers when empty). It
// returns nil if at least one driver accepted the event; a failure from
// every target is returned joined.
func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	targets := drivers
	if len(targets) == 0 {
		targets = m.defaultDrivers
	}

	var err error
	delivered := 0
	for _, driver := range targets {
		key := strings.ToLower(driver)
		pub, ok := m.publishers[key]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if publishErr := pub.Publish(ctx, topic, event); publishErr != nil {
			IncPublishError(key)
			m.logger.Warn("publish failed",
				zap.String("driver", key),
				zap.String("topic", topic),
				zap.String("delivery_id", event.DeliveryID),
				zap.Error(publishErr),
			)
			err = errors.Join(err, fmt.Errorf("%s: %w", key, publishErr))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("no drivers selected")
	}
	return err
}

func (m *publisherMux) Close() error {
	var err error
	for _, pub := range m.publishers {
		err = errors.Join(err, pub.Close())
	}
	return err
}

func buildGoChannelPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	pub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		},
		logger,
	)
	return pub, nil, nil
}

func amqpConfigFromMode(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlSchemaAdapter(dialect string) (wmsql.SchemaAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", fmt.Errorf("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", fmt.Errorf("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
