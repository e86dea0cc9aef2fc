package consumer

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

// StatusConsumer applies TransactionStatusUpdated verdicts from the antifraud
// service by dispatching UpdateTransactionStatus commands.
//
// Dispatch runs through retry around a circuit breaker. Permanent faults are
// logged and acknowledged. What happens after the policy gives up depends on
// the ExhaustionPolicy: with AckOnExhaustion the message goes to the dead
// letter sink and is acknowledged.
type StatusConsumer struct {
	commands     *cqrs.Bus
	policy       resilience.Policy
	onExhaustion events.ExhaustionPolicy
	deadLetters  events.DeadLetterSink
}

func NewStatusConsumer(commands *cqrs.Bus, policy resilience.Policy, onExhaustion events.ExhaustionPolicy, deadLetters events.DeadLetterSink) *StatusConsumer {
	return &StatusConsumer{
		commands:     commands,
		policy:       policy,
		onExhaustion: onExhaustion,
		deadLetters:  deadLetters,
	}
}

// Handle is an events.Handler.
func (c *StatusConsumer) Handle(ctx context.Context, msg events.Message) error {
	log := logrus.WithFields(logrus.Fields{
		"stream":     msg.Stream,
		"message_id": msg.ID,
		"key":        msg.Event.Key,
	})

	if msg.Event.Type != events.TransactionStatusUpdated {
		log.WithField("type", msg.Event.Type).Warn("ignoring unexpected event type")
		return nil
	}

	var verdict events.TransactionStatusEvent
	if err := msg.Event.Decode(&verdict); err != nil {
		return err
	}
	if !verdict.Status.IsTerminal() {
		log.WithField("status", verdict.Status).Warn("ignoring verdict without a final status")
		return nil
	}
	log = log.WithFields(logrus.Fields{
		"transaction_id": verdict.TransactionExternalID,
		"status":         verdict.Status,
	})

	cmd := cqrs.UpdateTransactionStatusCommand{
		TransactionExternalID: verdict.TransactionExternalID,
		Status:                verdict.Status,
		SourceMessageID:       msg.ID,
	}
	err := c.policy.Run(ctx, func() error {
		_, err := cqrs.Dispatch[cqrs.NoResult](ctx, c.commands, cmd)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrInvalidTransition):
		log.WithError(err).Warn("verdict conflicts with final status, dropping")
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		log.WithError(err).Warn("verdict for unknown transaction, dropping")
		return nil
	case apperrors.IsPermanent(err):
		log.WithError(err).Error("verdict cannot be applied, dropping")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}

	if c.onExhaustion != events.AckOnExhaustion {
		log.WithError(err).Error("status update failed, leaving verdict for redelivery")
		return err
	}

	if dlqErr := c.deadLetters.Send(ctx, events.DeadLetter{
		Topic:     msg.Topic,
		MessageID: msg.ID,
		Event:     msg.Event,
		Reason:    err.Error(),
	}); dlqErr != nil {
		log.WithError(dlqErr).Error("failed to dead-letter verdict, leaving it for redelivery")
		return errors.Join(err, dlqErr)
	}
	log.WithError(err).Error("status update failed after retries, verdict dead-lettered")
	return nil
}
