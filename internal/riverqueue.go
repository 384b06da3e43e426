package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"
)

// PushJobKind is the river job kind for push deliveries.
const PushJobKind = "push_delivery"

// PushJobArgs carries one verified push delivery through river.
type PushJobArgs struct {
	Topic      string          `json:"topic"`
	Provider   string          `json:"provider"`
	Event      string          `json:"event"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Repository string          `json:"repository,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (PushJobArgs) Kind() string { return PushJobKind }

// RiverQueue owns the pgx pool and river client used to enqueue and, when
// workers are supplied, work push jobs.
type RiverQueue struct {
	pool    *pgxpool.Pool
	client  *river.Client[pgx.Tx]
	cfg     RiverQueueConfig
	working bool
	logger  *zap.Logger
}

// NewRiverQueue connects to cfg.DSN. With nil workers the client is insert
// only.
func NewRiverQueue(ctx context.Context, cfg RiverQueueConfig, workers *river.Workers, logger *zap.Logger) (*RiverQueue, error) {
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	if logger == nil {
		logger = NewLogger("riverqueue")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open riverqueue pool: %w", err)
	}

	if cfg.Migrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate river schema: %w", err)
		}
	}

	riverCfg := &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	if workers != nil {
		maxWorkers := cfg.MaxWorkers
		if maxWorkers <= 0 {
			maxWorkers = 5
		}
		riverCfg.Queues = map[string]river.QueueConfig{
			queueName(cfg): {MaxWorkers: maxWorkers},
		}
		riverCfg.Workers = workers
	}
	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &RiverQueue{
		pool:    pool,
		client:  client,
		cfg:     cfg,
		working: workers != nil,
		logger:  logger,
	}, nil
}

// Enqueue inserts a push job for event on topic.
func (q *RiverQueue) Enqueue(ctx context.Context, topic string, event Event) error {
	args := PushJobArgs{
		Topic:      topic,
		Provider:   event.Provider,
		Event:      event.Name,
		DeliveryID: event.DeliveryID,
		RequestID:  event.RequestID,
		Repository: event.Repository,
		Payload:    json.RawMessage(event.RawPayload),
	}
	result, err := q.client.Insert(ctx, args, &river.InsertOpts{
		Queue:       queueName(q.cfg),
		MaxAttempts: q.cfg.MaxAttempts,
		Priority:    q.cfg.Priority,
		Tags:        q.cfg.Tags,
	})
	if err != nil {
		return fmt.Errorf("insert river job: %w", err)
	}
	q.logger.Debug("push job enqueued",
		zap.Int64("job_id", result.Job.ID),
		zap.String("delivery_id", event.DeliveryID),
	)
	return nil
}

// Start begins working jobs. It is a no-op for insert-only queues.
func (q *RiverQueue) Start(ctx context.Context) error {
	if !q.working {
		return nil
	}
	return q.client.Start(ctx)
}

// Stop waits for running jobs to finish.
func (q *RiverQueue) Stop(ctx context.Context) error {
	if !q.working {
		return nil
	}
	return q.client.Stop(ctx)
}

// Close releases the pool. Call Stop first when working.
func (q *RiverQueue) Close() error {
	q.pool.Close()
	return nil
}

func queueName(cfg RiverQueueConfig) string {
	if cfg.Queue == "" {
		return river.QueueDefault
	}
	return cfg.Queue
}

// riverPublisher adapts RiverQueue to Publisher.
type riverPublisher struct {
	queue *RiverQueue
	owned bool
}

func (p *riverPublisher) Publish(ctx context.Context, topic string, event Event) error {
	return p.queue.Enqueue(ctx, topic, event)
}

func (p *riverPublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}

func (p *riverPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.queue.Close()
}
