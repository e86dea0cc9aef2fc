package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

type PostgresOutboxRepository struct {
	db eventstore.DBTX
}

func NewPostgresOutboxRepository(db eventstore.DBTX) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

func (r *PostgresOutboxRepository) Enqueue(ctx context.Context, msg OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, topic, message_key, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.Topic, msg.Key, []byte(msg.Payload), msg.NextAttemptAt, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}

// Due locks the rows it returns when called inside a unit of work, so that
// concurrent relays skip them.
func (r *PostgresOutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	query := `
		SELECT id, topic, message_key, payload, attempts, last_error, next_attempt_at, created_at
		FROM outbox_messages
		WHERE published_at IS NULL AND next_attempt_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var (
			msg       OutboxMessage
			payload   []byte
			lastError sql.NullString
		)
		if err := rows.Scan(
			&msg.ID, &msg.Topic, &msg.Key, &payload, &msg.Attempts,
			&lastError, &msg.NextAttemptAt, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msg.Payload = payload
		msg.LastError = lastError.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load outbox messages: %w", err)
	}
	return messages, nil
}

func (r *PostgresOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET published_at = $2, last_error = NULL WHERE id = $1 AND published_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message published: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, next time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET attempts = $2, last_error = $3, next_attempt_at = $4 WHERE id = $1`,
		id, attempts, lastError, next,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule outbox message: %w", err)
	}
	return nil
}
