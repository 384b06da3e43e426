package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"taskhooks/pkg/storage"

	"go.uber.org/zap"
)

type contextKey int

const userKey contextKey = iota

// ExtractAPIKey extracts an API key from an Authorization: Bearer <key> header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}
	key := strings.TrimSpace(header[len(prefix):])
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// authMiddleware resolves the bearer token to a user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := ExtractAPIKey(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
			return
		}
		user, err := s.store.GetUserByToken(r.Context(), key)
		if err != nil {
			s.logger.Error("token lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "token lookup failed", nil)
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, *user)))
	})
}

func userFromContext(ctx context.Context) (storage.User, bool) {
	user, ok := ctx.Value(userKey).(storage.User)
	return user, ok
}
