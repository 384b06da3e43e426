// Package api serves the task HTTP API.
package api

import (
	"net/http"
	"strings"
	"time"

	"taskhooks/pkg/storage"
	"taskhooks/pkg/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes task creation and lookup.
type Server struct {
	store      storage.Store
	creator    *tasks.Creator
	authorizer tasks.Authorizer
	logger     *zap.Logger
	prefix     string
}

// Option customizes a Server.
type Option func(*Server)

// WithAuthorizer replaces the membership based read check.
func WithAuthorizer(authorizer tasks.Authorizer) Option {
	return func(s *Server) {
		if authorizer != nil {
			s.authorizer = authorizer
		}
	}
}

// WithPrefix mounts the API under prefix. The default is /api/v1.
func WithPrefix(prefix string) Option {
	return func(s *Server) {
		s.prefix = "/" + strings.Trim(prefix, "/")
	}
}

// NewServer wires the API over store and creator.
func NewServer(store storage.Store, creator *tasks.Creator, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		creator:    creator,
		authorizer: tasks.MembershipAuthorizer{Store: store},
		logger:     logger,
		prefix:     "/api/v1",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router. Callers may mount more handlers on it.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route(s.prefix, func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/organizations/{org}/tasks", s.handleCreateTask)
		r.Get("/organizations/{org}/tasks/{taskID}", s.handleGetTask)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
