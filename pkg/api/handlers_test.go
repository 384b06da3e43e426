package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskhooks/pkg/storage"
	"taskhooks/pkg/storage/gormstore"
	"taskhooks/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	store   *gormstore.Store
	handler http.Handler
	org     storage.Organization
	owner   storage.User
	viewer  storage.User
	outside storage.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store, err := gormstore.Open(gormstore.Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &apiFixture{store: store}
	f.org = storage.Organization{Name: "Acme", Slug: "acme", TaskPrefix: "ACME"}
	require.NoError(t, store.CreateOrganization(ctx, &f.org))

	f.owner = storage.User{Name: "Owner", Email: "owner@example.com", APIToken: "owner-token"}
	f.viewer = storage.User{Name: "Viewer", Email: "viewer@example.com", APIToken: "viewer-token"}
	f.outside = storage.User{Name: "Outside", Email: "outside@example.com", APIToken: "outside-token"}
	for _, user := range []*storage.User{&f.owner, &f.viewer, &f.outside} {
		require.NoError(t, store.CreateUser(ctx, user))
	}
	require.NoError(t, store.AddMembership(ctx, storage.Membership{OrganizationID: f.org.ID, UserID: f.owner.ID, Role: storage.RoleOwner}))
	require.NoError(t, store.AddMembership(ctx, storage.Membership{OrganizationID: f.org.ID, UserID: f.viewer.ID, Role: storage.RoleViewer}))

	server := NewServer(store, tasks.NewCreator(store), nil)
	f.handler = server.Routes()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "nope", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(0), f.countTasks(t))
}

func TestCreateTask(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "owner-token", map[string]interface{}{
		"title":    "Fix login",
		"priority": "high",
		"labels":   []string{"bug"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var task tasks.TaskDTO
	decodeBody(t, rec, &task)
	assert.Equal(t, "ACME-001", task.TaskID)
	assert.Equal(t, "Fix login", task.Title)
	assert.Equal(t, "high", task.Priority)
	assert.Equal(t, []string{"bug"}, task.Labels)
	assert.Equal(t, f.owner.ID, task.CreatedByID)
}

func TestCreateTaskFailures(t *testing.T) {
	f := newAPIFixture(t)
	missing := int64(9999)

	cases := []struct {
		name   string
		org    string
		token  string
		body   interface{}
		status int
		kind   string
	}{
		{name: "validation", org: "acme", token: "owner-token", body: map[string]string{"title": ""}, status: http.StatusUnprocessableEntity, kind: "validation_error"},
		{name: "viewer cannot create", org: "acme", token: "viewer-token", body: map[string]string{"title": "x"}, status: http.StatusForbidden, kind: "permission_denied"},
		{name: "non member", org: "acme", token: "outside-token", body: map[string]string{"title": "x"}, status: http.StatusForbidden, kind: "permission_denied"},
		{name: "unknown org", org: "ghost", token: "owner-token", body: map[string]string{"title": "x"}, status: http.StatusNotFound, kind: "not_found"},
		{name: "unknown service", org: "acme", token: "owner-token", body: map[string]interface{}{"title": "x", "service_id": missing}, status: http.StatusNotFound, kind: "not_found"},
		{name: "unknown assignee", org: "acme", token: "owner-token", body: map[string]interface{}{"title": "x", "assignee_id": missing}, status: http.StatusUnprocessableEntity, kind: "invalid_assignee"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/organizations/"+tc.org+"/tasks", tc.token, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body errorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, tc.kind, body.Error)
		})
	}
	assert.Equal(t, int64(0), f.countTasks(t))
}

func TestCreateTaskValidationFields(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "owner-token", map[string]string{"title": "x", "priority": "someday"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	decodeBody(t, rec, &body)
	assert.Contains(t, body.Fields, "priority")
}

func TestCreateTaskMalformedJSON(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "owner-token", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskWithActivities(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/v1/organizations/acme/tasks", "owner-token", map[string]string{"title": "Fix login"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created tasks.TaskDTO
	decodeBody(t, rec, &created)

	_, err := f.store.RecordActivity(ctx, &storage.Activity{
		OrganizationID: f.org.ID,
		TaskID:         created.ID,
		Kind:           "push",
		DeliveryID:     "d-1",
		Repository:     "acme/api",
		Ref:            "refs/heads/ACME-001-login",
		Branch:         "ACME-001-login",
		AuthorName:     "Octo",
		CommitCount:    1,
		CommitAuthors:  []string{"Octo"},
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/v1/organizations/acme/tasks/"+created.TaskID, "viewer-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fetched tasks.TaskDTO
	decodeBody(t, rec, &fetched)
	assert.Equal(t, created.TaskID, fetched.TaskID)
	require.Len(t, fetched.Activities, 1)
	assert.Equal(t, "ACME-001-login", fetched.Activities[0].Branch)
}

func TestGetTaskErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/organizations/acme/tasks/ACME-404", "owner-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/organizations/acme/tasks/ACME-001", "outside-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExtractAPIKey(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Basic abc":     false,
		"Bearer ":       false,
		"Bearer secret": true,
	}
	for header, ok := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		key, err := ExtractAPIKey(req)
		if ok {
			assert.NoError(t, err, header)
			assert.Equal(t, "secret", key)
		} else {
			assert.Error(t, err, header)
		}
	}
}

func (f *apiFixture) countTasks(t *testing.T) int64 {
	t.Helper()
	count, err := f.store.CountTasks(context.Background(), f.org.ID)
	require.NoError(t, err)
	return count
}
