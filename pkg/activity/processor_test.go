package activity

import (
	"context"
	"errors"
	"testing"

	"taskhooks/pkg/storage"
	"taskhooks/pkg/storage/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gormstore.Store, storage.Task) {
	t.Helper()
	ctx := context.Background()
	store, err := gormstore.Open(gormstore.Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	org := storage.Organization{Name: "Acme", Slug: "acme", TaskPrefix: "ACME"}
	require.NoError(t, store.CreateOrganization(ctx, &org))
	user := storage.User{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, store.CreateUser(ctx, &user))
	service := storage.Service{OrganizationID: org.ID, Name: "API", TaskPrefix: "API", GitHubRepo: "Acme/API"}
	require.NoError(t, store.CreateService(ctx, &service))

	task := storage.Task{
		OrganizationID: org.ID,
		TaskID:         "API-007",
		Title:          "Login",
		Status:         "todo",
		Priority:       "medium",
		ServiceID:      &service.ID,
		CreatedByID:    user.ID,
	}
	require.NoError(t, store.CreateTask(ctx, &task))
	return store, task
}

const pushPayload = `{
	"ref": "refs/heads/feature/API-007-login",
	"after": "abc123",
	"repository": {"full_name": "acme/api", "name": "api"},
	"pusher": {"name": "ada", "email": "ada@example.com"},
	"head_commit": {"id": "abc123", "message": "finish login"},
	"commits": [
		{"id": "aaa", "message": "start login", "author": {"name": "Ada"}},
		{"id": "abc123", "message": "finish login", "author": {"name": "Grace"}}
	]
}`

func TestProcessRecordsActivity(t *testing.T) {
	store, task := setup(t)
	p := NewProcessor(store, nil)

	outcome, err := p.Process(context.Background(), Delivery{DeliveryID: "d-1", Payload: []byte(pushPayload)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	activities, err := store.ListActivities(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	got := activities[0]
	assert.Equal(t, KindPush, got.Kind)
	assert.Equal(t, "d-1", got.DeliveryID)
	assert.Equal(t, "acme/api", got.Repository)
	assert.Equal(t, "feature/API-007-login", got.Branch)
	assert.Equal(t, "abc123", got.After)
	assert.Equal(t, "ada", got.AuthorName)
	assert.Equal(t, "ada@example.com", got.AuthorEmail)
	assert.Equal(t, "finish login", got.Message)
	assert.Equal(t, 2, got.CommitCount)
	assert.Equal(t, []string{"Ada", "Grace"}, got.CommitAuthors)
}

func TestProcessIsIdempotentPerDelivery(t *testing.T) {
	store, task := setup(t)
	p := NewProcessor(store, nil)
	delivery := Delivery{DeliveryID: "d-1", Payload: []byte(pushPayload)}

	outcome, err := p.Process(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
	for i := 0; i < 2; i++ {
		outcome, err := p.Process(context.Background(), delivery)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
	}
	activities, err := store.ListActivities(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, activities, 1)
}

func TestProcessFallsBackToRefAndAfter(t *testing.T) {
	store, task := setup(t)
	p := NewProcessor(store, nil)

	_, err := p.Process(context.Background(), Delivery{Payload: []byte(pushPayload)})
	require.NoError(t, err)
	outcome, err := p.Process(context.Background(), Delivery{Payload: []byte(pushPayload)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	activities, err := store.ListActivities(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "refs/heads/feature/API-007-login@abc123", activities[0].DeliveryID)
}

func TestProcessAcknowledgesUnmatchedPushes(t *testing.T) {
	store, _ := setup(t)
	p := NewProcessor(store, nil)

	cases := map[string]struct {
		payload string
		want    Outcome
	}{
		"no reference": {
			`{"ref":"refs/heads/main","repository":{"full_name":"acme/api"},"commits":[{"message":"tidy"}]}`,
			OutcomeNoReference,
		},
		"unknown repository": {
			`{"ref":"refs/heads/API-007","repository":{"full_name":"acme/web"}}`,
			OutcomeUnknownRepository,
		},
		"unknown task": {
			`{"ref":"refs/heads/main","repository":{"full_name":"acme/api"},"commits":[{"message":"[API-999] fix"}]}`,
			OutcomeUnknownTask,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			outcome, err := p.Process(context.Background(), Delivery{DeliveryID: name, Payload: []byte(tc.payload)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, outcome)
		})
	}
}

func TestProcessInvalidPayloadIsPermanent(t *testing.T) {
	store, _ := setup(t)
	p := NewProcessor(store, nil)

	_, err := p.Process(context.Background(), Delivery{DeliveryID: "d", Payload: []byte(`{"ref": 1}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = p.Process(context.Background(), Delivery{DeliveryID: "d", Payload: []byte(`not json`)})
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestProcessStorageErrorsAreRetryable(t *testing.T) {
	store, _ := setup(t)
	p := NewProcessor(store, nil)
	require.NoError(t, store.Close())

	_, err := p.Process(context.Background(), Delivery{DeliveryID: "d", Payload: []byte(pushPayload)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidPayload))
}
