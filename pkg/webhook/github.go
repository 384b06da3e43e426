package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/push"

	"github.com/go-playground/webhooks/v6/github"
	"go.uber.org/zap"
)

const providerGitHub = "github"

// GitHubConfig configures GitHubHandler.
type GitHubConfig struct {
	Secret string
	// Topic receives every push when no routing rule is configured.
	Topic        string
	MaxBody      int64
	ReplayWindow time.Duration
	DebugEvents  bool
}

// GitHubHandler verifies GitHub push deliveries, normalizes them and hands
// them to the dispatch layer.
type GitHubHandler struct {
	hook        *github.Webhook
	secret      []byte
	topic       string
	rules       *internal.RuleEngine
	publisher   internal.Publisher
	logger      *zap.Logger
	maxBody     int64
	debugEvents bool
	replays     *replayCache
}

// NewGitHubHandler creates a new GitHubHandler.
func NewGitHubHandler(cfg GitHubConfig, rules *internal.RuleEngine, publisher internal.Publisher, logger *zap.Logger) (*GitHubHandler, error) {
	if cfg.Secret == "" {
		return nil, errors.New("github webhook secret is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	// Signatures are checked before parsing, so the parser gets no secret.
	hook, err := github.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = internal.NewLogger("webhook")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = internal.DefaultPushTopic
	}
	return &GitHubHandler{
		hook:        hook,
		secret:      []byte(cfg.Secret),
		topic:       topic,
		rules:       rules,
		publisher:   publisher,
		logger:      logger,
		maxBody:     cfg.MaxBody,
		debugEvents: cfg.DebugEvents,
		replays:     newReplayCache(cfg.ReplayWindow),
	}, nil
}

// ServeHTTP handles an incoming HTTP request.
func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	eventName := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	logger := internal.WithRequestID(h.logger, reqID).With(
		zap.String("event", eventName),
		zap.String("delivery_id", deliveryID),
	)
	internal.IncRequest(providerGitHub)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, rawBody, r.Header.Get("X-Hub-Signature-256")) {
		internal.IncSignatureFailure(providerGitHub)
		logger.Warn("github signature rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if h.debugEvents {
		logDebugEvent(logger, providerGitHub, eventName, rawBody)
	}

	if eventName != string(github.PushEvent) {
		h.serveOtherEvent(w, r, logger, rawBody)
		return
	}

	// Push payloads are decoded once and validated by the normalizer, which
	// reports bad fields instead of failing on the first type mismatch.
	var object map[string]interface{}
	if err := json.Unmarshal(rawBody, &object); err != nil {
		internal.IncParseError(providerGitHub)
		logger.Info("github parse failed", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	event, err := push.Normalize(object)
	if err != nil {
		var normErr *push.NormalizationError
		if errors.As(err, &normErr) {
			internal.IncNormalizationFailure(providerGitHub)
			logger.Info("push payload rejected", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"errors": normErr.Fields})
			return
		}
		internal.IncParseError(providerGitHub)
		logger.Info("github parse failed", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.replays.claim(deliveryID) {
		logger.Info("github delivery replayed, skipping")
		w.WriteHeader(http.StatusOK)
		return
	}

	accepted := h.emit(r, logger, internal.Event{
		Provider:   providerGitHub,
		Name:       eventName,
		DeliveryID: deliveryID,
		RequestID:  reqID,
		Repository: event.RepositoryFullName(),
		RawPayload: rawBody,
		Data:       internal.Flatten(object),
		RawObject:  object,
	})
	if !accepted {
		h.replays.release(deliveryID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// serveOtherEvent answers pings and acknowledges events the service does not
// consume.
func (h *GitHubHandler) serveOtherEvent(w http.ResponseWriter, r *http.Request, logger *zap.Logger, rawBody []byte) {
	r.Body = io.NopCloser(bytes.NewReader(rawBody))
	_, err := h.hook.Parse(r, github.PingEvent)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, github.ErrEventNotFound):
		logger.Debug("github event ignored")
		w.WriteHeader(http.StatusOK)
	default:
		internal.IncParseError(providerGitHub)
		logger.Info("github parse failed", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
	}
}

// emit publishes event to every matched topic and reports whether at least
// one publish succeeded.
func (h *GitHubHandler) emit(r *http.Request, logger *zap.Logger, event internal.Event) bool {
	matches := []internal.RuleMatch{{Topic: h.topic}}
	if !h.rules.Empty() {
		matches = h.rules.EvaluateWithLogger(event, logger)
	}
	logger.Info("github push received",
		zap.String("repository", event.Repository),
		zap.Int("topics", len(matches)),
	)
	if len(matches) == 0 {
		return true
	}
	accepted := false
	for _, match := range matches {
		if err := h.publisher.PublishForDrivers(r.Context(), match.Topic, event, match.Drivers); err != nil {
			logger.Error("publish failed", zap.String("topic", match.Topic), zap.Error(err))
			continue
		}
		accepted = true
	}
	return accepted
}
