package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/activity"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const payload = `{"ref":"refs/heads/API-1","repository":{"full_name":"acme/api"}}`

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, internal.NewWatermillLogger(zap.NewNop()))
	t.Cleanup(func() { _ = pubsub.Close() })
	return pubsub
}

func pushMessage(delivery string) *message.Message {
	msg := message.NewMessage(delivery, []byte(payload))
	msg.Metadata.Set(internal.MetadataProvider, "github")
	msg.Metadata.Set(internal.MetadataEvent, "push")
	msg.Metadata.Set(internal.MetadataDeliveryID, delivery)
	msg.Metadata.Set(internal.MetadataRepository, "acme/api")
	return msg
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	// Subscriptions are made asynchronously by Run.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func TestDefaultCodecReadsMetadata(t *testing.T) {
	evt, err := DefaultCodec{}.Decode("github.push", pushMessage("d-1"))
	require.NoError(t, err)
	assert.Equal(t, "github", evt.Provider)
	assert.Equal(t, "push", evt.Type)
	assert.Equal(t, "github.push", evt.Topic)
	assert.Equal(t, "d-1", evt.DeliveryID)
	assert.Equal(t, "acme/api", evt.Repository)
	assert.JSONEq(t, payload, string(evt.Payload))
	assert.Equal(t, "refs/heads/API-1", evt.Normalized["ref"])

	_, err = DefaultCodec{}.Decode("t", message.NewMessage("x", []byte("not json")))
	assert.Error(t, err)
}

func TestWorkerDeliversPublishedMessages(t *testing.T) {
	pubsub := newPubSub(t)
	received := make(chan *Event, 1)
	w := New(WithSubscriber(pubsub), WithTopics("github.push"), WithLogger(zap.NewNop()))
	w.HandleTopic("github.push", func(ctx context.Context, evt *Event) error {
		received <- evt
		return nil
	})
	runWorker(t, w)

	require.NoError(t, pubsub.Publish("github.push", pushMessage("d-2")))
	select {
	case evt := <-received:
		assert.Equal(t, "d-2", evt.DeliveryID)
	case <-time.After(2 * time.Second):
		t.Fatal("message not handled")
	}
}

func TestBackoffRetryRetriesThenSucceeds(t *testing.T) {
	var calls int32
	handler := BackoffRetry(BackoffConfig{MaxAttempts: 5, Initial: time.Millisecond, Max: 2 * time.Millisecond}, zap.NewNop())(
		func(ctx context.Context, evt *Event) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("database is locked")
			}
			return nil
		})

	require.NoError(t, handler(context.Background(), &Event{}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBackoffRetryStopsOnPermanentAndExhaustion(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond}

	var permanentCalls int32
	permanent := BackoffRetry(cfg, zap.NewNop())(func(ctx context.Context, evt *Event) error {
		atomic.AddInt32(&permanentCalls, 1)
		return Permanent(errors.New("bad payload"))
	})
	assert.EqualError(t, permanent(context.Background(), &Event{}), "bad payload")
	assert.Equal(t, int32(1), permanentCalls)

	var failingCalls int32
	failing := BackoffRetry(cfg, zap.NewNop())(func(ctx context.Context, evt *Event) error {
		atomic.AddInt32(&failingCalls, 1)
		return errors.New("down")
	})
	assert.Error(t, failing(context.Background(), &Event{}))
	assert.Equal(t, int32(3), failingCalls)
}

func TestWorkerAcksAfterRetriesExhausted(t *testing.T) {
	pubsub := newPubSub(t)
	var mu sync.Mutex
	calls := map[string]int{}
	finished := make(chan error, 4)

	w := New(
		WithSubscriber(pubsub),
		WithTopics("github.push"),
		WithLogger(zap.NewNop()),
		WithRetry(AckOnError{}),
		WithMiddleware(BackoffRetry(BackoffConfig{MaxAttempts: 2, Initial: time.Millisecond}, zap.NewNop())),
		WithListener(Listener{OnMessageFinish: func(ctx context.Context, evt *Event, err error) { finished <- err }}),
	)
	w.HandleTopic("github.push", func(ctx context.Context, evt *Event) error {
		mu.Lock()
		calls[evt.DeliveryID]++
		mu.Unlock()
		return errors.New("always failing")
	})
	runWorker(t, w)

	require.NoError(t, pubsub.Publish("github.push", pushMessage("d-3")))
	select {
	case err := <-finished:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("message not handled")
	}
	// An acked message is not redelivered.
	select {
	case <-finished:
		t.Fatal("message was redelivered")
	case <-time.After(100 * time.Millisecond):
	}
	mu.Lock()
	assert.Equal(t, 2, calls["d-3"])
	mu.Unlock()
}

func TestMiddlewareFromWatermillRecoversPanics(t *testing.T) {
	handler := MiddlewareFromWatermill(middleware.Recoverer)(func(ctx context.Context, evt *Event) error {
		panic("boom")
	})
	err := handler(context.Background(), &Event{DeliveryID: "d-4"})
	assert.Error(t, err)
}

type stubProcessor struct {
	got activity.Delivery
	err error
}

func (s *stubProcessor) Process(ctx context.Context, delivery activity.Delivery) (activity.Outcome, error) {
	s.got = delivery
	return activity.OutcomeRecorded, s.err
}

func TestPushHandler(t *testing.T) {
	processor := &stubProcessor{}
	handler := PushHandler(processor)
	evt := &Event{DeliveryID: "d-5", RequestID: "r-5", Payload: []byte(payload)}

	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, "d-5", processor.got.DeliveryID)
	assert.Equal(t, "r-5", processor.got.RequestID)

	processor.err = errors.New("connection reset")
	err := handler(context.Background(), evt)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	processor.err = activity.ErrInvalidPayload
	assert.True(t, IsPermanent(handler(context.Background(), evt)))
}

func TestSubscriberConfigFromWatermill(t *testing.T) {
	cfg := SubscriberConfigFromWatermill(internal.WatermillConfig{Drivers: []string{"riverqueue", "GoChannel", "http"}})
	assert.Equal(t, "gochannel", cfg.Driver)
	assert.Empty(t, cfg.Drivers)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "-worker", cfg.NATS.ClientIDSuffix)

	cfg = SubscriberConfigFromWatermill(internal.WatermillConfig{Driver: "riverqueue"})
	assert.False(t, cfg.Enabled())

	cfg = SubscriberConfigFromWatermill(internal.WatermillConfig{Drivers: []string{"kafka", "amqp"}})
	assert.Equal(t, []string{"kafka", "amqp"}, cfg.Drivers)
}

func TestBuildSubscriberSharesPubSub(t *testing.T) {
	pubsub := newPubSub(t)
	sub, err := BuildSubscriber(SubscriberConfig{Driver: "gochannel", PubSub: pubsub}, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, pubsub, sub)

	_, err = BuildSubscriber(SubscriberConfig{Driver: "kafka", BuildAttempts: 1}, zap.NewNop())
	assert.Error(t, err)
}

func TestTopicsFromRules(t *testing.T) {
	topics := TopicsFromRules([]internal.Rule{
		{Emit: internal.EmitList{"a", "b"}},
		{Emit: internal.EmitList{"b", " c "}},
	})
	assert.Equal(t, []string{"a", "b", "c"}, topics)
}
