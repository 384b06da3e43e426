package webhook

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func logDebugEvent(logger *zap.Logger, provider, event string, body []byte) {
	logger.Debug("webhook payload",
		zap.String("provider", provider),
		zap.String("event", event),
		zap.ByteString("body", body),
	)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
