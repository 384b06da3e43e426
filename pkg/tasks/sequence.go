package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskhooks/pkg/storage"
)

// DefaultTaskPrefix is used when neither the service nor the organization
// configures one.
const DefaultTaskPrefix = "TASK"

// SequenceAllocator hands out human readable task ids such as "API-007".
type SequenceAllocator struct {
	store storage.Store
}

// NewSequenceAllocator returns an allocator backed by store.
func NewSequenceAllocator(store storage.Store) *SequenceAllocator {
	return &SequenceAllocator{store: store}
}

// NextTaskID allocates the next id for org. The counter lives in storage and
// is incremented atomically there, so concurrent callers never share a
// number. service may be nil.
func (a *SequenceAllocator) NextTaskID(ctx context.Context, org storage.Organization, service *storage.Service) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("sequence allocator is not initialized")
	}
	sequence, err := a.store.NextTaskSequence(ctx, org.ID)
	if err != nil {
		return "", fmt.Errorf("allocate task sequence for organization %d: %w", org.ID, err)
	}
	return FormatTaskID(TaskPrefix(org, service), sequence), nil
}

// TaskPrefix resolves the prefix: service, then organization, then
// DefaultTaskPrefix.
func TaskPrefix(org storage.Organization, service *storage.Service) string {
	if service != nil {
		if prefix := strings.TrimSpace(service.TaskPrefix); prefix != "" {
			return prefix
		}
	}
	if prefix := strings.TrimSpace(org.TaskPrefix); prefix != "" {
		return prefix
	}
	return DefaultTaskPrefix
}

// FormatTaskID pads the sequence to at least three digits.
func FormatTaskID(prefix string, sequence int64) string {
	return fmt.Sprintf("%s-%03d", prefix, sequence)
}
