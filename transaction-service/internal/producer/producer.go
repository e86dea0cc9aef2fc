package producer

import (
	"context"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

// Publisher is the resilient broker producer.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event events.Event) (events.PublishResult, error)
}

// TransactionProducer announces new transactions to the antifraud service.
type TransactionProducer struct {
	publisher Publisher
}

func NewTransactionProducer(publisher Publisher) *TransactionProducer {
	return &TransactionProducer{publisher: publisher}
}

// CreatedEvent builds the envelope announcing tx, keyed by its id.
func (p *TransactionProducer) CreatedEvent(tx *domain.Transaction) (events.Event, error) {
	return events.NewEvent(events.TransactionCreated, tx.ID.String(), events.TransactionCreatedEvent{
		TransactionExternalID:   tx.ID,
		AccountExternalIDDebit:  tx.DebitAccountID,
		AccountExternalIDCredit: tx.CreditAccountID,
		TransferTypeID:          tx.TransferTypeID,
		Value:                   tx.Value,
		Status:                  tx.Status,
	})
}

// PublishCreated publishes the created event of tx.
func (p *TransactionProducer) PublishCreated(ctx context.Context, tx *domain.Transaction) (events.PublishResult, error) {
	event, err := p.CreatedEvent(tx)
	if err != nil {
		return events.PublishResult{}, err
	}
	return p.PublishEvent(ctx, events.TransactionCreatedTopic, event)
}

// PublishEvent sends a prepared envelope, as stored in the outbox.
func (p *TransactionProducer) PublishEvent(ctx context.Context, topic string, event events.Event) (events.PublishResult, error) {
	return p.publisher.PublishEvent(ctx, topic, event)
}
