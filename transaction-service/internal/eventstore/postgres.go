package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/database"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

const (
	versionConstraint     = "uq_domain_events_aggregate_version"
	idempotencyConstraint = "uq_domain_events_aggregate_idempotency"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps events in the domain_events table.
type PostgresStore struct {
	db  DBTX
	now func() time.Time
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const selectEvents = `
	SELECT id, aggregate_id, aggregate_type, event_type, payload, version, occurred_at, metadata, idempotency_key
	FROM domain_events
`

// Append inserts the event at version max+1 of its aggregate in one
// statement. The unique constraints decide races and redeliveries.
func (s *PostgresStore) Append(ctx context.Context, event domain.Event, idempotencyKey string) (StoredEvent, error) {
	payload, err := domain.Encode(event)
	if err != nil {
		return StoredEvent{}, err
	}
	if idempotencyKey == "" {
		idempotencyKey = IdempotencyKeyFor(event)
	}

	stored := StoredEvent{
		AggregateID:    event.AggregateID(),
		AggregateType:  domain.AggregateType,
		EventType:      event.EventType(),
		Payload:        payload,
		OccurredAt:     event.OccurredAt().UTC(),
		Metadata:       newMetadata(event, s.now()),
		IdempotencyKey: idempotencyKey,
	}

	query := `
		INSERT INTO domain_events (aggregate_id, aggregate_type, event_type, payload, version, occurred_at, metadata, idempotency_key)
		SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5, $6, $7
		FROM domain_events
		WHERE aggregate_id = $1
		RETURNING id, version
	`
	err = s.db.QueryRowContext(ctx, query,
		stored.AggregateID, stored.AggregateType, stored.EventType, []byte(stored.Payload),
		stored.OccurredAt, []byte(stored.Metadata), stored.IdempotencyKey,
	).Scan(&stored.ID, &stored.Version)
	switch {
	case database.IsUniqueViolation(err, idempotencyConstraint):
		return StoredEvent{}, fmt.Errorf("%w: %s already applied to %s", apperrors.ErrDuplicateEvent, idempotencyKey, stored.AggregateID)
	case database.IsUniqueViolation(err, versionConstraint):
		return StoredEvent{}, fmt.Errorf("%w: concurrent append to %s", apperrors.ErrVersionConflict, stored.AggregateID)
	case err != nil:
		return StoredEvent{}, fmt.Errorf("failed to append event: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Events(ctx context.Context, aggregateID uuid.UUID) ([]StoredEvent, error) {
	return s.query(ctx, selectEvents+` WHERE aggregate_id = $1 ORDER BY version ASC`, aggregateID)
}

func (s *PostgresStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM domain_events WHERE aggregate_id = $1)`, aggregateID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check events: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Count(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM domain_events WHERE aggregate_id = $1`, aggregateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) EventsByType(ctx context.Context, eventType string) ([]StoredEvent, error) {
	return s.query(ctx, selectEvents+` WHERE event_type = $1 ORDER BY occurred_at DESC, id DESC`, eventType)
}

func (s *PostgresStore) EventsByAggregateType(ctx context.Context, aggregateType string) ([]StoredEvent, error) {
	return s.query(ctx, selectEvents+` WHERE aggregate_type = $1 ORDER BY occurred_at DESC, id DESC`, aggregateType)
}

func (s *PostgresStore) query(ctx context.Context, query string, arg any) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var (
			e        StoredEvent
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType,
			&payload, &e.Version, &e.OccurredAt, &metadata, &e.IdempotencyKey,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = payload
		e.Metadata = metadata
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}
