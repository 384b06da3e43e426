package gormstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"taskhooks/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedOrganization(t *testing.T, store *Store, slug string) *storage.Organization {
	t.Helper()
	org := &storage.Organization{Name: slug, Slug: slug}
	require.NoError(t, store.CreateOrganization(context.Background(), org))
	require.NotZero(t, org.ID)
	return org
}

func TestOpenRequiresDriverAndDSN(t *testing.T) {
	_, err := Open(Config{DSN: ":memory:"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, "postgres", normalizeDriver(" PGX "))
	assert.Equal(t, "postgres", normalizeDriver("postgresql"))
	assert.Equal(t, "mysql", normalizeDriver("mysql"))
	assert.Equal(t, "sqlite", normalizeDriver("sqlite3"))
	assert.Equal(t, "", normalizeDriver("mssql"))
}

func TestLookupsReturnNilOnMiss(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	org, err := store.GetOrganization(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, org)

	user, err := store.GetUserByToken(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	sprint, err := store.GetSprint(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, sprint)

	task, err := store.GetTaskByTaskID(ctx, 1, "TASK-001")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestNextTaskSequenceIncrements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextTaskSequence(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	reloaded, err := store.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.TaskSequence)
}

func TestNextTaskSequenceUnknownOrganization(t *testing.T) {
	store := openTestStore(t)
	_, err := store.NextTaskSequence(context.Background(), 999)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestNextTaskSequenceConcurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	const workers = 20
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.NextTaskSequence(ctx, org.ID)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "duplicate sequence %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

func TestInTxRollsBackSequenceAndTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx storage.Store) error {
		n, err := tx.NextTaskSequence(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		require.NoError(t, tx.CreateTask(ctx, &storage.Task{
			OrganizationID: org.ID,
			TaskID:         "TASK-001",
			Title:          "rolled back",
			Status:         "todo",
			CreatedByID:    1,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := store.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.TaskSequence)

	count, err := store.CountTasks(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCreateTaskDuplicateIsConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	task := &storage.Task{OrganizationID: org.ID, TaskID: "TASK-001", Title: "a", Status: "todo", CreatedByID: 1}
	require.NoError(t, store.CreateTask(ctx, task))

	dup := &storage.Task{OrganizationID: org.ID, TaskID: "TASK-001", Title: "b", Status: "todo", CreatedByID: 1}
	err := store.CreateTask(ctx, dup)
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)
}

func TestTaskRoundTripAndUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	sprint := &storage.Sprint{OrganizationID: org.ID, Name: "Sprint 1"}
	require.NoError(t, store.CreateSprint(ctx, sprint))

	task := &storage.Task{
		OrganizationID: org.ID,
		TaskID:         "ACME-001",
		Title:          "Login page",
		Status:         "todo",
		Priority:       "high",
		Labels:         []string{"frontend", "auth"},
		CreatedByID:    7,
	}
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.LinkTaskSprint(ctx, task.ID, sprint.ID))
	require.NoError(t, store.SetTaskIssue(ctx, task.ID, 12, "https://github.com/acme/api/issues/12"))

	got, err := store.GetTaskByTaskID(ctx, org.ID, "ACME-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"frontend", "auth"}, got.Labels)
	require.NotNil(t, got.SprintID)
	assert.Equal(t, sprint.ID, *got.SprintID)
	assert.Equal(t, 12, got.GitHubIssueNumber)
	assert.Equal(t, "https://github.com/acme/api/issues/12", got.GitHubIssueURL)

	err = store.SetTaskIssue(ctx, 9999, 1, "x")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestMembershipUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")
	user := &storage.User{Name: "Jane", Email: "jane@example.com", APIToken: "secret-token"}
	require.NoError(t, store.CreateUser(ctx, user))

	require.NoError(t, store.AddMembership(ctx, storage.Membership{OrganizationID: org.ID, UserID: user.ID, Role: storage.RoleViewer}))
	require.NoError(t, store.AddMembership(ctx, storage.Membership{OrganizationID: org.ID, UserID: user.ID, Role: storage.RoleAdmin}))

	membership, err := store.GetMembership(ctx, org.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, storage.RoleAdmin, membership.Role)

	byToken, err := store.GetUserByToken(ctx, "secret-token")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, user.ID, byToken.ID)
}

func TestFindServiceByRepositoryIgnoresCase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")

	service := &storage.Service{OrganizationID: org.ID, Name: "API", GitHubRepo: "Acme/API"}
	require.NoError(t, store.CreateService(ctx, service))

	found, err := store.FindServiceByRepository(ctx, "acme/api")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, service.ID, found.ID)

	missing, err := store.FindServiceByRepository(ctx, "acme/web")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordActivityIsIdempotentPerDelivery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, store, "acme")
	task := &storage.Task{OrganizationID: org.ID, TaskID: "ACME-001", Title: "a", Status: "todo", CreatedByID: 1}
	require.NoError(t, store.CreateTask(ctx, task))

	activity := storage.Activity{
		OrganizationID: org.ID,
		TaskID:         task.ID,
		Kind:           "push",
		DeliveryID:     "delivery-1",
		Branch:         "ACME-001-login",
		CommitAuthors:  []string{"Jane", "bob"},
	}
	first := activity
	second := activity
	recorded, err := store.RecordActivity(ctx, &first)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.NotZero(t, first.ID)
	recorded, err = store.RecordActivity(ctx, &second)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Zero(t, second.ID)

	other := activity
	other.DeliveryID = "delivery-2"
	recorded, err = store.RecordActivity(ctx, &other)
	require.NoError(t, err)
	assert.True(t, recorded)

	activities, err := store.ListActivities(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "delivery-1", activities[0].DeliveryID)
	assert.Equal(t, []string{"Jane", "bob"}, activities[0].CommitAuthors)

	_, err = store.RecordActivity(ctx, &storage.Activity{TaskID: task.ID})
	assert.Error(t, err)
}
