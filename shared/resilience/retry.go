package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
)

// RetryPolicy retries a call with exponential backoff. Permanent faults (see
// apperrors.IsPermanent) stop the loop on the first attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a permanent fault, or the attempts
// are used up. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && apperrors.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.newBackOff(ctx))
}

// Policy is retry around a circuit breaker.
type Policy struct {
	Retry   RetryPolicy
	Breaker *Breaker
}

func (p Policy) Run(ctx context.Context, fn func() error) error {
	return p.Retry.Do(ctx, func() error {
		return p.Breaker.Execute(fn)
	})
}
