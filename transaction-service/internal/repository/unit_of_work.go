package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// PostgresUnitOfWork runs each unit in its own sql.Tx.
type PostgresUnitOfWork struct {
	db *sql.DB
}

func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

func postgresStores(db eventstore.DBTX) Stores {
	return Stores{
		Events:       eventstore.NewPostgresStore(db),
		Transactions: NewPostgresTransactionRepository(db),
		Types:        NewPostgresTransactionTypeRepository(db),
		Outbox:       NewPostgresOutboxRepository(db),
	}
}

func (u *PostgresUnitOfWork) Stores() Stores {
	return postgresStores(u.db)
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, postgresStores(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.WithError(rbErr).Error("failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
