package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

type PostgresTransactionTypeRepository struct {
	db eventstore.DBTX
}

func NewPostgresTransactionTypeRepository(db eventstore.DBTX) *PostgresTransactionTypeRepository {
	return &PostgresTransactionTypeRepository{db: db}
}

func (r *PostgresTransactionTypeRepository) Get(ctx context.Context, id int) (models.TransactionType, error) {
	var tt models.TransactionType
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM transaction_types WHERE id = $1`, id).Scan(&tt.ID, &tt.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return tt, fmt.Errorf("%w: transaction type %d", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return tt, fmt.Errorf("failed to get transaction type: %w", err)
	}
	return tt, nil
}
