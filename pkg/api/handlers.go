package api

import (
	"encoding/json"
	"io"
	"net/http"

	"taskhooks/pkg/storage"
	"taskhooks/pkg/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error  string            `json:"error"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	org, ok := s.organization(w, r)
	if !ok {
		return
	}

	var params tasks.Params
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := decoder.Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object", nil)
		return
	}

	result, err := s.creator.Create(r.Context(), tasks.Request{
		Params:       params,
		User:         user,
		Organization: *org,
	})
	if err != nil {
		s.logger.Error("create task failed",
			zap.String("organization", org.Slug),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "task could not be created", nil)
		return
	}
	if result.Failure != nil {
		writeFailure(w, result.Failure)
		return
	}
	writeJSON(w, http.StatusCreated, result.Task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	org, ok := s.organization(w, r)
	if !ok {
		return
	}

	allowed, err := s.authorizer.CanViewTasks(r.Context(), user, *org)
	if err != nil {
		s.internalError(w, r, "permission check failed", err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, string(tasks.KindPermissionDenied), "you cannot view tasks in this organization", nil)
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTaskByTaskID(r.Context(), org.ID, taskID)
	if err != nil {
		s.internalError(w, r, "task lookup failed", err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, string(tasks.KindNotFound), "task not found", nil)
		return
	}
	activities, err := s.store.ListActivities(r.Context(), task.ID)
	if err != nil {
		s.internalError(w, r, "activity lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks.NewTaskDTO(*task).WithActivities(activities))
}

// organization resolves the {org} slug, writing a 404 when it is unknown.
func (s *Server) organization(w http.ResponseWriter, r *http.Request) (*storage.Organization, bool) {
	org, err := s.store.GetOrganizationBySlug(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		s.internalError(w, r, "organization lookup failed", err)
		return nil, false
	}
	if org == nil {
		writeError(w, http.StatusNotFound, string(tasks.KindNotFound), "organization not found", nil)
		return nil, false
	}
	return org, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", msg, nil)
}

func failureStatus(kind tasks.FailureKind) int {
	switch kind {
	case tasks.KindValidation, tasks.KindInvalidAssignee:
		return http.StatusUnprocessableEntity
	case tasks.KindPermissionDenied:
		return http.StatusForbidden
	case tasks.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func writeFailure(w http.ResponseWriter, failure *tasks.Failure) {
	writeError(w, failureStatus(failure.Kind), string(failure.Kind), failure.Detail, failure.Fields)
}

func writeError(w http.ResponseWriter, status int, code, detail string, fields map[string]string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail, Fields: fields})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
