package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

type mockSender struct {
	publishFn func(ctx context.Context, topic string, event Event) (PublishResult, error)
	calls     int
}

func (m *mockSender) PublishEvent(ctx context.Context, topic string, event Event) (PublishResult, error) {
	m.calls++
	return m.publishFn(ctx, topic, event)
}

func testPolicy() resilience.Policy {
	return resilience.Policy{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
		Breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name:         "broker",
			FailureRatio: 1,
			MinRequests:  100,
			OpenTimeout:  time.Minute,
			IsFailure:    func(err error) bool { return !apperrors.IsPermanent(err) },
		}, apperrors.ErrPublishUnavailable),
	}
}

func TestProducerRetriesTransientFailures(t *testing.T) {
	sender := &mockSender{}
	sender.publishFn = func(ctx context.Context, topic string, event Event) (PublishResult, error) {
		if sender.calls < 3 {
			return PublishResult{}, errors.New("timeout")
		}
		return PublishResult{Topic: topic, ID: "1-0"}, nil
	}

	result, err := NewProducer(sender, testPolicy()).Publish(context.Background(), TransactionCreatedTopic, "tx-1", TransactionCreated, "payload")

	require.NoError(t, err)
	assert.Equal(t, "1-0", result.ID)
	assert.Equal(t, 3, sender.calls)
}

func TestProducerReportsExhaustionAsPublishUnavailable(t *testing.T) {
	sender := &mockSender{publishFn: func(context.Context, string, Event) (PublishResult, error) {
		return PublishResult{}, errors.New("timeout")
	}}

	_, err := NewProducer(sender, testPolicy()).Publish(context.Background(), TransactionCreatedTopic, "tx-1", TransactionCreated, "payload")

	assert.ErrorIs(t, err, apperrors.ErrPublishUnavailable)
	assert.Equal(t, 3, sender.calls)
}

func TestProducerDoesNotRetrySerializationFaults(t *testing.T) {
	sender := &mockSender{publishFn: func(context.Context, string, Event) (PublishResult, error) {
		return PublishResult{}, nil
	}}

	_, err := NewProducer(sender, testPolicy()).Publish(context.Background(), TransactionCreatedTopic, "tx-1", TransactionCreated, func() {})

	assert.ErrorIs(t, err, apperrors.ErrSerialization)
	assert.Zero(t, sender.calls)
}
