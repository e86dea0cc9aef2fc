package consumer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// Validator screens a created transaction and publishes the verdict.
type Validator interface {
	ValidateTransaction(ctx context.Context, event events.TransactionCreatedEvent) (models.TransactionStatus, error)
}

// CreatedConsumer feeds TransactionCreated events to the fraud check. Errors
// are returned to the subscriber, which leaves the message pending so it is
// delivered again.
type CreatedConsumer struct {
	validator Validator
}

func NewCreatedConsumer(validator Validator) *CreatedConsumer {
	return &CreatedConsumer{validator: validator}
}

// Handle is an events.Handler.
func (c *CreatedConsumer) Handle(ctx context.Context, msg events.Message) error {
	log := logrus.WithFields(logrus.Fields{
		"stream":     msg.Stream,
		"message_id": msg.ID,
		"key":        msg.Event.Key,
	})
	if msg.Event.Type != events.TransactionCreated {
		log.WithField("type", msg.Event.Type).Warn("ignoring unexpected event type")
		return nil
	}

	var created events.TransactionCreatedEvent
	if err := msg.Event.Decode(&created); err != nil {
		return err
	}
	log.WithField("transaction_id", created.TransactionExternalID).Debug("received transaction created event")

	if _, err := c.validator.ValidateTransaction(ctx, created); err != nil {
		log.WithError(err).Error("error processing transaction")
		return err
	}
	return nil
}
