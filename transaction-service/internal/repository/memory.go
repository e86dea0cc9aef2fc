package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// DefaultTransactionTypes mirrors the rows seeded by the schema migrations.
var DefaultTransactionTypes = []models.TransactionType{
	{ID: 1, Name: "Tipo A"},
	{ID: 2, Name: "Tipo B"},
	{ID: 3, Name: "Tipo C"},
}

type MemoryTransactionRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]domain.Transaction
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{rows: make(map[uuid.UUID]domain.Transaction)}
}

func (r *MemoryTransactionRepository) Upsert(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[tx.ID] = *tx
	return nil
}

func (r *MemoryTransactionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", apperrors.ErrNotFound, id)
	}
	return &tx, nil
}

type MemoryTransactionTypeRepository struct {
	types map[int]models.TransactionType
}

func NewMemoryTransactionTypeRepository(types ...models.TransactionType) *MemoryTransactionTypeRepository {
	if len(types) == 0 {
		types = DefaultTransactionTypes
	}
	m := make(map[int]models.TransactionType, len(types))
	for _, t := range types {
		m[t.ID] = t
	}
	return &MemoryTransactionTypeRepository{types: m}
}

func (r *MemoryTransactionTypeRepository) Get(ctx context.Context, id int) (models.TransactionType, error) {
	t, ok := r.types[id]
	if !ok {
		return t, fmt.Errorf("%w: transaction type %d", apperrors.ErrNotFound, id)
	}
	return t, nil
}

type MemoryOutboxRepository struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]OutboxMessage
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{messages: make(map[uuid.UUID]OutboxMessage)}
}

func (r *MemoryOutboxRepository) Enqueue(ctx context.Context, msg OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.messages[msg.ID]; exists {
		return fmt.Errorf("outbox message %s already exists", msg.ID)
	}
	r.messages[msg.ID] = msg
	return nil
}

func (r *MemoryOutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []OutboxMessage
	for _, m := range r.messages {
		if m.PublishedAt == nil && !m.NextAttemptAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.PublishedAt != nil {
		return nil
	}
	m.PublishedAt = &at
	m.LastError = ""
	r.messages[id] = m
	return nil
}

func (r *MemoryOutboxRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil
	}
	m.Attempts = attempts
	m.LastError = lastError
	m.NextAttemptAt = next
	r.messages[id] = m
	return nil
}

// Message returns a copy of the stored message with id.
func (r *MemoryOutboxRepository) Message(id uuid.UUID) (OutboxMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	return m, ok
}

// MemoryUnitOfWork serializes units of work over in-process stores and undoes
// every write of a unit that fails.
type MemoryUnitOfWork struct {
	mu           sync.Mutex
	events       *eventstore.MemoryStore
	transactions *MemoryTransactionRepository
	types        *MemoryTransactionTypeRepository
	outbox       *MemoryOutboxRepository
}

func NewMemoryUnitOfWork(types ...models.TransactionType) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{
		events:       eventstore.NewMemoryStore(),
		transactions: NewMemoryTransactionRepository(),
		types:        NewMemoryTransactionTypeRepository(types...),
		outbox:       NewMemoryOutboxRepository(),
	}
}

func (u *MemoryUnitOfWork) Stores() Stores {
	return Stores{
		Events:       u.events,
		Transactions: u.transactions,
		Types:        u.types,
		Outbox:       u.outbox,
	}
}

// EventStore exposes the underlying event store.
func (u *MemoryUnitOfWork) EventStore() *eventstore.MemoryStore { return u.events }

// Outbox exposes the underlying outbox.
func (u *MemoryUnitOfWork) Outbox() *MemoryOutboxRepository { return u.outbox }

func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	events := u.events.Snapshot()
	rows := u.transactions.snapshot()
	outbox := u.outbox.snapshot()

	if err := fn(ctx, u.Stores()); err != nil {
		u.events.Restore(events)
		u.transactions.restore(rows)
		u.outbox.restore(outbox)
		return err
	}
	return nil
}

func (r *MemoryTransactionRepository) snapshot() map[uuid.UUID]domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]domain.Transaction, len(r.rows))
	for k, v := range r.rows {
		out[k] = v
	}
	return out
}

func (r *MemoryTransactionRepository) restore(rows map[uuid.UUID]domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = rows
}

func (r *MemoryOutboxRepository) snapshot() map[uuid.UUID]OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]OutboxMessage, len(r.messages))
	for k, v := range r.messages {
		out[k] = v
	}
	return out
}

func (r *MemoryOutboxRepository) restore(messages map[uuid.UUID]OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = messages
}
