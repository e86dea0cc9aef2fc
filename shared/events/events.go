package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// Event types
const (
	TransactionCreated       = "transaction.created"
	TransactionStatusUpdated = "transaction.status-updated"
)

// Topic names. Each topic is split into partition streams, see StreamName.
const (
	TransactionCreatedTopic       = "transaction-created"
	TransactionStatusUpdatedTopic = "transaction-status-updated"
)

// Event is the envelope written to the broker.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope keyed by key.
func NewEvent(eventType, key string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: failed to marshal %s payload: %w", apperrors.ErrSerialization, eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s payload: %w", apperrors.ErrSerialization, e.Type, err)
	}
	return nil
}

// TransactionCreatedEvent is the snapshot the antifraud service evaluates.
type TransactionCreatedEvent struct {
	TransactionExternalID   uuid.UUID                `json:"transactionExternalId"`
	AccountExternalIDDebit  uuid.UUID                `json:"accountExternalIdDebit"`
	AccountExternalIDCredit uuid.UUID                `json:"accountExternalIdCredit"`
	TransferTypeID          int                      `json:"transferTypeId"`
	Value                   decimal.Decimal          `json:"value"`
	Status                  models.TransactionStatus `json:"status"`
}

// TransactionStatusEvent carries the fraud verdict back to the transaction service.
type TransactionStatusEvent struct {
	TransactionExternalID uuid.UUID                `json:"transactionExternalId"`
	Status                models.TransactionStatus `json:"status"`
}
