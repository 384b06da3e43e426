package tasks

import (
	"context"
	"testing"

	"taskhooks/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPrefixPrecedence(t *testing.T) {
	org := storage.Organization{TaskPrefix: "ORG"}
	service := &storage.Service{TaskPrefix: "SVC"}

	assert.Equal(t, "SVC", TaskPrefix(org, service))
	assert.Equal(t, "ORG", TaskPrefix(org, &storage.Service{}))
	assert.Equal(t, "ORG", TaskPrefix(org, nil))
	assert.Equal(t, DefaultTaskPrefix, TaskPrefix(storage.Organization{}, nil))
	assert.Equal(t, DefaultTaskPrefix, TaskPrefix(storage.Organization{TaskPrefix: "  "}, &storage.Service{TaskPrefix: " "}))
}

func TestFormatTaskID(t *testing.T) {
	assert.Equal(t, "TASK-001", FormatTaskID("TASK", 1))
	assert.Equal(t, "TASK-042", FormatTaskID("TASK", 42))
	assert.Equal(t, "TASK-999", FormatTaskID("TASK", 999))
	assert.Equal(t, "TASK-1000", FormatTaskID("TASK", 1000))
}

func TestNextTaskIDUsesStorageCounter(t *testing.T) {
	f := newFixture(t)
	allocator := NewSequenceAllocator(f.store)
	ctx := context.Background()

	first, err := allocator.NextTaskID(ctx, f.org, nil)
	require.NoError(t, err)
	assert.Equal(t, "ACME-001", first)

	second, err := allocator.NextTaskID(ctx, f.org, &f.service)
	require.NoError(t, err)
	assert.Equal(t, "API-002", second)
}

func TestNextTaskIDUnknownOrganization(t *testing.T) {
	f := newFixture(t)
	_, err := NewSequenceAllocator(f.store).NextTaskID(context.Background(), storage.Organization{ID: 12345}, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
