package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// AggregateType is stored with every event of a Transaction aggregate.
const AggregateType = "Transaction"

// Event type tags as persisted in the event store.
const (
	EventTransactionCreated       = "TransactionCreated"
	EventTransactionStatusChanged = "TransactionStatusChanged"
)

// Event is a fact about a Transaction. The set of implementations is closed:
// TransactionCreated, TransactionStatusChanged and UnknownEvent.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
	isEvent()
}

type TransactionCreated struct {
	TransactionID   uuid.UUID       `json:"transactionExternalId"`
	DebitAccountID  uuid.UUID       `json:"accountExternalIdDebit"`
	CreditAccountID uuid.UUID       `json:"accountExternalIdCredit"`
	TransferTypeID  int             `json:"transferTypeId"`
	Value           decimal.Decimal `json:"value"`
	Timestamp       time.Time       `json:"occurredAt"`
}

func (e TransactionCreated) EventType() string      { return EventTransactionCreated }
func (e TransactionCreated) AggregateID() uuid.UUID { return e.TransactionID }
func (e TransactionCreated) OccurredAt() time.Time  { return e.Timestamp }
func (TransactionCreated) isEvent()                 {}

type TransactionStatusChanged struct {
	TransactionID uuid.UUID                `json:"transactionExternalId"`
	OldStatus     models.TransactionStatus `json:"oldStatus"`
	NewStatus     models.TransactionStatus `json:"newStatus"`
	Reason        string                   `json:"reason"`
	Timestamp     time.Time                `json:"occurredAt"`
}

func (e TransactionStatusChanged) EventType() string      { return EventTransactionStatusChanged }
func (e TransactionStatusChanged) AggregateID() uuid.UUID { return e.TransactionID }
func (e TransactionStatusChanged) OccurredAt() time.Time  { return e.Timestamp }
func (TransactionStatusChanged) isEvent()                 {}

// UnknownEvent holds an event whose tag this build does not understand.
type UnknownEvent struct {
	Type          string
	TransactionID uuid.UUID
	Payload       json.RawMessage
	Timestamp     time.Time
}

func (e UnknownEvent) EventType() string      { return e.Type }
func (e UnknownEvent) AggregateID() uuid.UUID { return e.TransactionID }
func (e UnknownEvent) OccurredAt() time.Time  { return e.Timestamp }
func (UnknownEvent) isEvent()                 {}

// Encode serializes the payload of e.
func Encode(e Event) (json.RawMessage, error) {
	if u, ok := e.(UnknownEvent); ok {
		return u.Payload, nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode %s: %w", apperrors.ErrSerialization, e.EventType(), err)
	}
	return raw, nil
}

// Decode turns a stored payload back into an Event. Unrecognised tags decode
// to UnknownEvent; malformed payloads of known tags are serialization faults.
func Decode(eventType string, aggregateID uuid.UUID, occurredAt time.Time, payload json.RawMessage) (Event, error) {
	switch eventType {
	case EventTransactionCreated:
		var e TransactionCreated
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", apperrors.ErrSerialization, eventType, err)
		}
		return e, nil
	case EventTransactionStatusChanged:
		var e TransactionStatusChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", apperrors.ErrSerialization, eventType, err)
		}
		return e, nil
	default:
		return UnknownEvent{
			Type:          eventType,
			TransactionID: aggregateID,
			Payload:       payload,
			Timestamp:     occurredAt,
		}, nil
	}
}
