package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// PostgresTransactionRepository keeps the read model in the transactions table.
type PostgresTransactionRepository struct {
	db eventstore.DBTX
}

func NewPostgresTransactionRepository(db eventstore.DBTX) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Upsert(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (transaction_external_id, account_external_id_debit, account_external_id_credit,
			transfer_type_id, value, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_external_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.DebitAccountID, tx.CreditAccountID,
		tx.TransferTypeID, tx.Value, string(tx.Status), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (r *PostgresTransactionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT transaction_external_id, account_external_id_debit, account_external_id_credit,
			transfer_type_id, value, status, created_at, updated_at
		FROM transactions
		WHERE transaction_external_id = $1
	`
	var (
		tx     domain.Transaction
		status string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tx.ID, &tx.DebitAccountID, &tx.CreditAccountID,
		&tx.TransferTypeID, &tx.Value, &status, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Status = models.TransactionStatus(status)
	return &tx, nil
}
