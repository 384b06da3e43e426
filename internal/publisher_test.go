package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// stubPublisher is a mock publisher for testing.
type stubPublisher struct {
	published    int
	failures     int
	lastTopic    string
	lastUUID     string
	lastPayload  []byte
	lastMetadata message.Metadata
}

// Publish fails while failures remain, then records the message.
func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastUUID = msgs[0].UUID
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

// Close is a no-op.
func (s *stubPublisher) Close() error {
	return nil
}

func registerStub(t *testing.T, name string, stub *stubPublisher, closeFn func() error) {
	t.Helper()
	orig, had := publisherFactories[name]
	t.Cleanup(func() {
		if had {
			publisherFactories[name] = orig
		} else {
			delete(publisherFactories, name)
		}
	})
	RegisterPublisherDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, closeFn, nil
	})
}

// TestRegisterPublisherDriver tests that a custom publisher driver can be registered and used.
func TestRegisterPublisherDriver(t *testing.T) {
	stub := &stubPublisher{}
	closed := false
	registerStub(t, "custom", stub, func() error { closed = true; return nil })

	pub, err := NewPublisher(WatermillConfig{Driver: "custom"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "custom.topic", Event{Provider: "github"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if stub.published != 1 || stub.lastTopic != "custom.topic" {
		t.Fatalf("expected publish to custom.topic once, got %d to %q", stub.published, stub.lastTopic)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatalf("expected custom close to be called")
	}
}

// TestHTTPURLTarget tests that the HTTP target URL is constructed correctly.
func TestHTTPURLTarget(t *testing.T) {
	url, err := httpTargetURL(HTTPConfig{Mode: "base_url", BaseURL: "http://localhost:8080/hooks/"}, "/github.push")
	if err != nil {
		t.Fatalf("httpTargetURL: %v", err)
	}
	if url != "http://localhost:8080/hooks/github.push" {
		t.Fatalf("unexpected url: %q", url)
	}
	if _, err := httpTargetURL(HTTPConfig{Mode: "topic_url"}, ""); err == nil {
		t.Fatalf("expected error for empty topic url")
	}
}

// TestMultipleDrivers tests that the publisher can be configured to publish to multiple drivers.
func TestMultipleDrivers(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	registerStub(t, "multi-a", a, nil)
	registerStub(t, "multi-b", b, nil)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"multi-a", "multi-b"}}, zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "github"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected publish to both drivers, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "github"}, []string{"MULTI-B"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 2 {
		t.Fatalf("expected publish to multi-b only, got a=%d b=%d", a.published, b.published)
	}
}

// TestPublishUsesRawPayloadAndMetadata ensures raw payload is forwarded and metadata is set.
func TestPublishUsesRawPayloadAndMetadata(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "payload", stub, nil)

	pub, err := NewPublisher(WatermillConfig{Driver: "payload"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	raw := []byte(`{"ref":"refs/heads/main"}`)
	event := Event{
		Provider:   "github",
		Name:       "push",
		RequestID:  "req-123",
		DeliveryID: "delivery-1",
		Repository: "acme/api",
		RawPayload: raw,
	}
	if err := pub.PublishForDrivers(context.Background(), "payload.topic", event, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if string(stub.lastPayload) != string(raw) {
		t.Fatalf("expected raw payload to be forwarded")
	}
	if stub.lastUUID != "delivery-1" {
		t.Fatalf("expected delivery id as message uuid, got %q", stub.lastUUID)
	}
	if stub.lastMetadata.Get(MetadataProvider) != "github" {
		t.Fatalf("expected provider metadata")
	}
	if stub.lastMetadata.Get(MetadataEvent) != "push" {
		t.Fatalf("expected event metadata")
	}
	if stub.lastMetadata.Get(MetadataRequestID) != "req-123" {
		t.Fatalf("expected request_id metadata")
	}
	if stub.lastMetadata.Get(MetadataDeliveryID) != "delivery-1" {
		t.Fatalf("expected delivery_id metadata")
	}
	if stub.lastMetadata.Get(MetadataRepository) != "acme/api" {
		t.Fatalf("expected repository metadata")
	}
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	stub := &stubPublisher{failures: 2}
	registerStub(t, "flaky", stub, nil)

	pub, err := NewPublisher(WatermillConfig{
		Driver:       "flaky",
		PublishRetry: PublishRetryConfig{Attempts: 3, DelayMS: 1},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "topic", Event{Provider: "github"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected one delivered message, got %d", stub.published)
	}
}

func TestPublishFailsWhenEveryDriverFails(t *testing.T) {
	broken := &stubPublisher{failures: 10}
	healthy := &stubPublisher{}
	registerStub(t, "broken", broken, nil)
	registerStub(t, "healthy", healthy, nil)

	pub, err := NewPublisher(WatermillConfig{
		Drivers:      []string{"broken", "healthy"},
		PublishRetry: PublishRetryConfig{Attempts: 1},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.Publish(context.Background(), "topic", Event{}); err != nil {
		t.Fatalf("expected partial success to be accepted, got %v", err)
	}
	if err := pub.PublishForDrivers(context.Background(), "topic", Event{}, []string{"broken"}); err == nil {
		t.Fatalf("expected error when every selected driver fails")
	}
	if err := pub.PublishForDrivers(context.Background(), "topic", Event{}, []string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewPublisherSkipsBrokenDrivers(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "ok", stub, nil)

	_, err := NewPublisher(WatermillConfig{Drivers: []string{"kafka"}}, zap.NewNop(), WithBuildRetry(1, time.Millisecond))
	if err == nil {
		t.Fatalf("expected error when no driver can be built")
	}

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"kafka", "ok"}}, zap.NewNop(), WithBuildRetry(1, time.Millisecond))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "topic", Event{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
