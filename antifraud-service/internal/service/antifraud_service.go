package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// DefaultThreshold is the largest value approved without review.
var DefaultThreshold = decimal.RequireFromString("1000.00")

// Publisher sends integration events.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, data any) (events.PublishResult, error)
}

// AntiFraudService screens new transactions. It keeps no state: the verdict
// only depends on the value, so a redelivered transaction gets the same one.
type AntiFraudService struct {
	threshold decimal.Decimal
	publisher Publisher
}

func NewAntiFraudService(threshold decimal.Decimal, publisher Publisher) *AntiFraudService {
	return &AntiFraudService{threshold: threshold, publisher: publisher}
}

// Evaluate rejects values above the threshold. A value equal to it is approved.
func (s *AntiFraudService) Evaluate(value decimal.Decimal) models.TransactionStatus {
	if value.GreaterThan(s.threshold) {
		return models.StatusRejected
	}
	return models.StatusApproved
}

// ValidateTransaction evaluates event and publishes the verdict keyed by the
// transaction id. Publish failures are returned unchanged.
func (s *AntiFraudService) ValidateTransaction(ctx context.Context, event events.TransactionCreatedEvent) (models.TransactionStatus, error) {
	if event.TransactionExternalID == uuid.Nil {
		return "", fmt.Errorf("%w: transactionExternalId is required", apperrors.ErrValidation)
	}
	log := logrus.WithField("transaction_id", event.TransactionExternalID)
	log.WithField("value", event.Value).Info("validating transaction")

	status := s.Evaluate(event.Value)
	key := event.TransactionExternalID.String()
	result, err := s.publisher.Publish(ctx, events.TransactionStatusUpdatedTopic, key, events.TransactionStatusUpdated,
		events.TransactionStatusEvent{
			TransactionExternalID: event.TransactionExternalID,
			Status:                status,
		})
	if err != nil {
		return status, fmt.Errorf("failed to publish verdict for %s: %w", key, err)
	}

	log.WithFields(logrus.Fields{
		"status":     status,
		"stream":     result.Stream,
		"message_id": result.ID,
	}).Info("transaction validation completed")
	return status, nil
}
