package worker

import (
	"context"

	"taskhooks/internal"

	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

// RiverPushWorker works push jobs enqueued by the riverqueue driver. River
// owns retries, so handlers should not be wrapped in BackoffRetry.
type RiverPushWorker struct {
	river.WorkerDefaults[internal.PushJobArgs]
	handler Handler
	logger  *zap.Logger
}

// NewRiverPushWorker wraps handler as a river worker.
func NewRiverPushWorker(handler Handler, logger *zap.Logger) *RiverPushWorker {
	if logger == nil {
		logger = defaultLogger()
	}
	return &RiverPushWorker{handler: handler, logger: logger}
}

// RegisterRiverWorkers adds the push worker to workers.
func RegisterRiverWorkers(workers *river.Workers, handler Handler, logger *zap.Logger) {
	river.AddWorker(workers, NewRiverPushWorker(handler, logger))
}

// Work runs the handler for one job. Permanent failures cancel the job
// instead of scheduling another attempt.
func (w *RiverPushWorker) Work(ctx context.Context, job *river.Job[internal.PushJobArgs]) error {
	args := job.Args
	evt := &Event{
		Provider:   args.Provider,
		Type:       args.Event,
		Topic:      args.Topic,
		DeliveryID: args.DeliveryID,
		RequestID:  args.RequestID,
		Repository: args.Repository,
		Metadata: map[string]string{
			internal.MetadataProvider:   args.Provider,
			internal.MetadataEvent:      args.Event,
			internal.MetadataDeliveryID: args.DeliveryID,
			internal.MetadataRequestID:  args.RequestID,
			internal.MetadataRepository: args.Repository,
		},
		Payload: args.Payload,
	}
	err := w.handler(ctx, evt)
	if err == nil {
		return nil
	}
	logger := w.logger.With(append(eventFields(evt), zap.Int64("job_id", job.ID), zap.Int("attempt", job.Attempt))...)
	if IsPermanent(err) {
		logger.Error("push job cancelled", zap.Error(err))
		return river.JobCancel(err)
	}
	logger.Warn("push job failed", zap.Error(err))
	return err
}
