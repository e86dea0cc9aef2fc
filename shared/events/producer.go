package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

// Sender is the broker-facing side of a Publisher.
type Sender interface {
	PublishEvent(ctx context.Context, topic string, event Event) (PublishResult, error)
}

// ExhaustionPolicy decides what a consumer does with a message once its
// retries are exhausted or the breaker guarding it is open.
type ExhaustionPolicy string

const (
	// AckOnExhaustion hands the message to a DeadLetterSink and acknowledges it.
	AckOnExhaustion ExhaustionPolicy = "ack-on-exhaustion"
	// RedeliverOnExhaustion leaves the message pending so the broker delivers
	// it again.
	RedeliverOnExhaustion ExhaustionPolicy = "redeliver-on-exhaustion"
)

// Producer publishes through a retry policy wrapped around the broker circuit
// breaker. Any failure that survives the policy is reported as
// apperrors.ErrPublishUnavailable, except malformed payloads.
type Producer struct {
	sender Sender
	policy resilience.Policy
}

func NewProducer(sender Sender, policy resilience.Policy) *Producer {
	return &Producer{sender: sender, policy: policy}
}

// Publish builds an envelope for data and sends it.
func (p *Producer) Publish(ctx context.Context, topic, key, eventType string, data any) (PublishResult, error) {
	event, err := NewEvent(eventType, key, data)
	if err != nil {
		return PublishResult{}, err
	}
	return p.PublishEvent(ctx, topic, event)
}

// PublishEvent sends event as-is. Resending the same envelope keeps its id.
func (p *Producer) PublishEvent(ctx context.Context, topic string, event Event) (PublishResult, error) {
	var result PublishResult
	err := p.policy.Run(ctx, func() error {
		r, err := p.sender.PublishEvent(ctx, topic, event)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, apperrors.ErrPublishUnavailable) || errors.Is(err, apperrors.ErrSerialization) {
		return PublishResult{}, err
	}
	return PublishResult{}, fmt.Errorf("%w: %w", apperrors.ErrPublishUnavailable, err)
}
