package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// TransactionRepository persists the transaction read model. Rows are derived
// from the event log and may be overwritten.
type TransactionRepository interface {
	Upsert(ctx context.Context, tx *domain.Transaction) error
	// Get returns apperrors.ErrNotFound when no row exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// TransactionTypeRepository reads transfer type descriptors.
type TransactionTypeRepository interface {
	// Get returns apperrors.ErrNotFound for unknown ids.
	Get(ctx context.Context, id int) (models.TransactionType, error)
}

// OutboxMessage is an integration event waiting to be published.
type OutboxMessage struct {
	ID            uuid.UUID
	Topic         string
	Key           string
	Payload       json.RawMessage
	Attempts      int
	LastError     string
	PublishedAt   *time.Time
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OutboxRepository stores integration events written in the same unit of work
// as the state change they announce.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) error
	// Due returns up to limit unpublished messages whose next attempt is due,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, next time.Time) error
}

// Stores groups the repositories that take part in a unit of work.
type Stores struct {
	Events       eventstore.Store
	Transactions TransactionRepository
	Types        TransactionTypeRepository
	Outbox       OutboxRepository
}

// UnitOfWork runs fn atomically: either every write fn made through the
// given Stores is kept, or none is.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
	// Stores gives non-transactional access for reads and single writes.
	Stores() Stores
}
