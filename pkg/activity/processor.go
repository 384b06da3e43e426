// Package activity records pushes against the tasks they reference.
package activity

import (
	"context"
	"errors"
	"fmt"

	"taskhooks/internal"
	"taskhooks/pkg/push"
	"taskhooks/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KindPush is the activity kind recorded for pushes.
const KindPush = "push"

// ErrInvalidPayload marks deliveries that can never be processed. Retrying
// them is pointless.
var ErrInvalidPayload = errors.New("invalid push payload")

// Outcome says what Process did with a delivery.
type Outcome string

const (
	OutcomeRecorded          Outcome = "recorded"
	OutcomeNoReference       Outcome = "no_reference"
	OutcomeUnknownRepository Outcome = "unknown_repository"
	OutcomeUnknownTask       Outcome = "unknown_task"
	OutcomeDuplicate         Outcome = "duplicate"
)

// Delivery is one push as it comes off the queue.
type Delivery struct {
	DeliveryID string
	RequestID  string
	Payload    []byte
}

// Processor links pushes to tasks.
type Processor struct {
	store  storage.Store
	logger *zap.Logger
}

// NewProcessor returns a Processor writing to store.
func NewProcessor(store storage.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, logger: logger}
}

// Process records delivery as an activity on the task it references. Pushes
// that reference nothing known are acknowledged without error. Storage
// failures are returned so the caller can retry.
func (p *Processor) Process(ctx context.Context, delivery Delivery) (Outcome, error) {
	event, err := push.NormalizeJSON(delivery.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	repository := event.RepositoryFullName()
	logger := p.logger.With(
		zap.String("delivery_id", delivery.DeliveryID),
		zap.String("repository", repository),
	)

	ref, ok := push.ExtractTaskID(event)
	if !ok {
		logger.Debug("push references no task")
		return OutcomeNoReference, nil
	}
	logger = logger.With(zap.String("task_id", ref))

	service, err := p.store.FindServiceByRepository(ctx, repository)
	if err != nil {
		return "", fmt.Errorf("find service for %s: %w", repository, err)
	}
	if service == nil {
		logger.Info("push for unknown repository")
		return OutcomeUnknownRepository, nil
	}

	task, err := p.store.GetTaskByTaskID(ctx, service.OrganizationID, ref)
	if err != nil {
		return "", fmt.Errorf("find task %s: %w", ref, err)
	}
	if task == nil {
		logger.Info("push references unknown task")
		return OutcomeUnknownTask, nil
	}

	activity := &storage.Activity{
		OrganizationID: task.OrganizationID,
		TaskID:         task.ID,
		Kind:           KindPush,
		DeliveryID:     deliveryKey(delivery, event),
		Repository:     repository,
		Ref:            event.Ref(),
		Branch:         event.BranchName(),
		After:          event.After(),
		AuthorName:     event.AuthorName(),
		AuthorEmail:    event.AuthorEmail(),
		Message:        event.LatestCommitMessage(),
		CommitCount:    event.CommitCount(),
		CommitAuthors:  event.CommitAuthors(),
	}
	recorded, err := p.store.RecordActivity(ctx, activity)
	if err != nil {
		return "", fmt.Errorf("record activity on %s: %w", ref, err)
	}
	if !recorded {
		logger.Info("push already recorded")
		return OutcomeDuplicate, nil
	}
	internal.IncActivityRecorded(repository)
	logger.Info("push recorded", zap.Int("commits", activity.CommitCount))
	return OutcomeRecorded, nil
}

// deliveryKey identifies the push for idempotent recording. Deliveries from
// GitHub always carry an id; the fallbacks cover hand-fed payloads.
func deliveryKey(delivery Delivery, event *push.Event) string {
	if delivery.DeliveryID != "" {
		return delivery.DeliveryID
	}
	if event.After() != "" {
		return event.Ref() + "@" + event.After()
	}
	return uuid.NewString()
}
