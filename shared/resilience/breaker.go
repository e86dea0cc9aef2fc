package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
)

// BreakerSettings configures a failure-rate circuit breaker.
type BreakerSettings struct {
	Name string
	// FailureRatio opens the breaker once failures/requests reaches it within
	// the counting window, provided at least MinRequests were observed.
	FailureRatio float64
	MinRequests  uint32
	// OpenTimeout is how long the breaker fast-fails before letting
	// HalfOpenRequests trial calls through.
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects are returned to the caller untouched. Nil means every error.
	IsFailure func(error) bool
}

// Breaker guards calls to one dependency. Failures it records, and calls it
// refuses while open, are reported wrapped in the unavailable sentinel it was
// built with.
type Breaker struct {
	name        string
	cb          *gobreaker.CircuitBreaker
	isFailure   func(error) bool
	unavailable error
}

func NewBreaker(s BreakerSettings, unavailable error) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = func(error) bool { return true }
	}
	halfOpen := s.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	minRequests := s.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	ratio := s.FailureRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: halfOpen,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &Breaker{name: s.Name, cb: cb, isFailure: isFailure, unavailable: unavailable}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker %q is open", b.unavailable, b.name)
	}
	if b.isFailure(err) {
		return fmt.Errorf("%w: %w", b.unavailable, err)
	}
	return err
}

// State reports the breaker state as a string: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOutage reports whether err should count against a storage or broker
// breaker. Domain answers such as a missing row or a duplicate event say the
// dependency is healthy.
func IsOutage(err error) bool {
	return err != nil &&
		!apperrors.IsPermanent(err) &&
		!errors.Is(err, apperrors.ErrDuplicateEvent) &&
		!errors.Is(err, apperrors.ErrVersionConflict) &&
		!errors.Is(err, context.Canceled)
}
