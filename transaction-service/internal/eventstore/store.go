// Package eventstore is the append-only log of domain events. Each aggregate
// has its own gapless version sequence starting at 1.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

// StoredEvent is one row of the log.
type StoredEvent struct {
	ID             int64           `json:"id"`
	AggregateID    uuid.UUID       `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	Version        int             `json:"version"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Metadata       json.RawMessage `json:"metadata"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// Decode returns the domain event held by the row.
func (e StoredEvent) Decode() (domain.Event, error) {
	return domain.Decode(e.EventType, e.AggregateID, e.OccurredAt, e.Payload)
}

// Store appends and reads domain events.
//
// Append assigns the next version of the aggregate. A concurrent append that
// claimed the same version fails with apperrors.ErrVersionConflict; an append
// repeating an idempotency key already used on the aggregate fails with
// apperrors.ErrDuplicateEvent.
type Store interface {
	Append(ctx context.Context, event domain.Event, idempotencyKey string) (StoredEvent, error)
	Events(ctx context.Context, aggregateID uuid.UUID) ([]StoredEvent, error)
	Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error)
	Count(ctx context.Context, aggregateID uuid.UUID) (int, error)
	EventsByType(ctx context.Context, eventType string) ([]StoredEvent, error)
	EventsByAggregateType(ctx context.Context, aggregateType string) ([]StoredEvent, error)
}

type metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	EventClass string    `json:"eventClass"`
}

func newMetadata(event domain.Event, now time.Time) json.RawMessage {
	raw, _ := json.Marshal(metadata{Timestamp: now.UTC(), EventClass: event.EventType()})
	return raw
}

// IdempotencyKeyFor returns the key used when the caller has none: events
// whose identity follows from the aggregate (creation) get a fixed key, the
// rest a fresh one.
func IdempotencyKeyFor(event domain.Event) string {
	if event.EventType() == domain.EventTransactionCreated {
		return "created:" + event.AggregateID().String()
	}
	return uuid.NewString()
}
