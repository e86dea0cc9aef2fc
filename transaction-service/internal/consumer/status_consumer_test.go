package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

type recordingSink struct {
	letters []events.DeadLetter
	err     error
}

func (s *recordingSink) Send(ctx context.Context, letter events.DeadLetter) error {
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, letter)
	return nil
}

func testPolicy() resilience.Policy {
	return resilience.Policy{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
		Breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name:        "status-consumer",
			MinRequests: 100,
			OpenTimeout: time.Minute,
			IsFailure:   resilience.IsOutage,
		}, apperrors.ErrServiceUnavailable),
	}
}

func busWith(fn func(ctx context.Context, cmd cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error)) *cqrs.Bus {
	bus := cqrs.NewBus("command")
	cqrs.Register[cqrs.UpdateTransactionStatusCommand, cqrs.NoResult](bus, cqrs.HandlerFunc[cqrs.UpdateTransactionStatusCommand, cqrs.NoResult](fn))
	return bus
}

func verdict(t *testing.T, id uuid.UUID, status models.TransactionStatus) events.Message {
	t.Helper()
	event, err := events.NewEvent(events.TransactionStatusUpdated, id.String(), events.TransactionStatusEvent{
		TransactionExternalID: id,
		Status:                status,
	})
	require.NoError(t, err)
	return events.Message{
		Topic:  events.TransactionStatusUpdatedTopic,
		Stream: events.StreamName(events.TransactionStatusUpdatedTopic, 0),
		ID:     "5-0",
		Event:  event,
	}
}

func TestStatusConsumerDispatchesVerdict(t *testing.T) {
	id := uuid.New()
	var got cqrs.UpdateTransactionStatusCommand
	bus := busWith(func(ctx context.Context, cmd cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
		got = cmd
		return cqrs.NoResult{}, nil
	})

	err := NewStatusConsumer(bus, testPolicy(), events.AckOnExhaustion, &recordingSink{}).
		Handle(context.Background(), verdict(t, id, models.StatusRejected))

	require.NoError(t, err)
	assert.Equal(t, id, got.TransactionExternalID)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "5-0", got.SourceMessageID)
}

func TestStatusConsumerAcksPermanentFaults(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "invalid transition", err: apperrors.ErrInvalidTransition},
		{name: "unknown transaction", err: apperrors.ErrNotFound},
		{name: "handler resolution", err: apperrors.ErrHandlerResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			bus := busWith(func(context.Context, cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
				calls++
				return cqrs.NoResult{}, tt.err
			})
			sink := &recordingSink{}

			err := NewStatusConsumer(bus, testPolicy(), events.AckOnExhaustion, sink).
				Handle(context.Background(), verdict(t, uuid.New(), models.StatusApproved))

			assert.NoError(t, err)
			assert.Equal(t, 1, calls, "permanent faults are not retried")
			assert.Empty(t, sink.letters)
		})
	}
}

func TestStatusConsumerAckOnExhaustion(t *testing.T) {
	calls := 0
	bus := busWith(func(context.Context, cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
		calls++
		return cqrs.NoResult{}, apperrors.ErrServiceUnavailable
	})
	sink := &recordingSink{}
	msg := verdict(t, uuid.New(), models.StatusApproved)

	err := NewStatusConsumer(bus, testPolicy(), events.AckOnExhaustion, sink).Handle(context.Background(), msg)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, sink.letters, 1)
	assert.Equal(t, "5-0", sink.letters[0].MessageID)
	assert.Equal(t, msg.Event.Key, sink.letters[0].Event.Key)
	assert.Contains(t, sink.letters[0].Reason, apperrors.ErrServiceUnavailable.Error())
}

func TestStatusConsumerRedeliversWhenDeadLetterFails(t *testing.T) {
	bus := busWith(func(context.Context, cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
		return cqrs.NoResult{}, errors.New("connection refused")
	})
	sink := &recordingSink{err: errors.New("redis down")}

	err := NewStatusConsumer(bus, testPolicy(), events.AckOnExhaustion, sink).
		Handle(context.Background(), verdict(t, uuid.New(), models.StatusApproved))

	assert.Error(t, err)
	assert.False(t, apperrors.IsPermanent(err))
}

func TestStatusConsumerRedeliverOnExhaustion(t *testing.T) {
	bus := busWith(func(context.Context, cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
		return cqrs.NoResult{}, errors.New("connection refused")
	})
	sink := &recordingSink{}

	err := NewStatusConsumer(bus, testPolicy(), events.RedeliverOnExhaustion, sink).
		Handle(context.Background(), verdict(t, uuid.New(), models.StatusApproved))

	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	assert.Empty(t, sink.letters)
}

func TestStatusConsumerIgnoresUnexpectedMessages(t *testing.T) {
	bus := busWith(func(context.Context, cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
		t.Fatal("must not dispatch")
		return cqrs.NoResult{}, nil
	})
	c := NewStatusConsumer(bus, testPolicy(), events.AckOnExhaustion, &recordingSink{})

	created, err := events.NewEvent(events.TransactionCreated, "k", events.TransactionCreatedEvent{Value: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.NoError(t, c.Handle(context.Background(), events.Message{Event: created}))

	assert.NoError(t, c.Handle(context.Background(), verdict(t, uuid.New(), models.StatusPending)))

	broken := verdict(t, uuid.New(), models.StatusApproved)
	broken.Event.Data = []byte(`{"status":`)
	assert.ErrorIs(t, c.Handle(context.Background(), broken), apperrors.ErrSerialization)
}
