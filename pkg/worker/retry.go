package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"
)

// RetryDecision defines whether a message should be retried or Nacked.
type RetryDecision struct {
	Retry bool
	Nack  bool
}

// RetryPolicy defines a policy for retrying failed messages.
type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) RetryDecision
}

// NoRetry is a retry policy that never retries.
type NoRetry struct{}

// OnError always returns a decision to not retry and to Nack the message.
func (NoRetry) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{Retry: false, Nack: true}
}

// AckOnError acks failed messages. Use it behind BackoffRetry, which has
// already spent the retry budget, so the broker does not redeliver forever.
type AckOnError struct{}

// OnError always acks.
func (AckOnError) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

// BackoffConfig bounds in-process retries.
type BackoffConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// BackoffRetry retries a failing handler with exponential backoff until it
// succeeds, returns a Permanent error, runs out of attempts or ctx ends.
func BackoffRetry(cfg BackoffConfig, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = defaultLogger()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			policy := backoff.NewExponentialBackOff()
			if cfg.Initial > 0 {
				policy.InitialInterval = cfg.Initial
			}
			if cfg.Max > 0 {
				policy.MaxInterval = cfg.Max
			}
			policy.MaxElapsedTime = 0

			attempt := 0
			op := func() error {
				attempt++
				return next(ctx, evt)
			}
			notify := func(err error, wait time.Duration) {
				logger.Warn("handler failed, retrying",
					append(eventFields(evt),
						zap.Int("attempt", attempt),
						zap.Duration("wait", wait),
						zap.Error(err),
					)...,
				)
			}
			bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
			return backoff.RetryNotify(op, bounded, notify)
		}
	}
}
