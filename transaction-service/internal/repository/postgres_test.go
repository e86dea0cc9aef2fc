package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func sampleTransaction() *domain.Transaction {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:              uuid.New(),
		DebitAccountID:  uuid.New(),
		CreditAccountID: uuid.New(),
		TransferTypeID:  1,
		Value:           decimal.RequireFromString("500.00"),
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestPostgresTransactionRepositoryUpsert(t *testing.T) {
	db, mock := newMock(t)
	tx := sampleTransaction()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions`)).
		WithArgs(tx.ID, tx.DebitAccountID, tx.CreditAccountID, 1, sqlmock.AnyArg(), "PENDING", tx.CreatedAt, tx.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresTransactionRepository(db).Upsert(context.Background(), tx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransactionRepositoryGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTransactionRepository(db)
	tx := sampleTransaction()
	columns := []string{"transaction_external_id", "account_external_id_debit", "account_external_id_credit", "transfer_type_id", "value", "status", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions`)).WithArgs(tx.ID).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			tx.ID.String(), tx.DebitAccountID.String(), tx.CreditAccountID.String(), 1, "500.00", "APPROVED", tx.CreatedAt, tx.UpdatedAt,
		))
	missing := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions`)).WithArgs(missing).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.True(t, tx.Value.Equal(got.Value))

	_, err = repo.Get(context.Background(), missing)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresTransactionTypeRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTransactionTypeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM transaction_types`)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Tipo A"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM transaction_types`)).WithArgs(9).
		WillReturnError(sql.ErrNoRows)

	tt, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Tipo A", tt.Name)

	_, err = repo.Get(context.Background(), 9)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresUnitOfWorkCommitsAndRollsBack(t *testing.T) {
	db, mock := newMock(t)
	uow := NewPostgresUnitOfWork(db)
	tx := sampleTransaction()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := uow.Do(context.Background(), func(ctx context.Context, s Stores) error {
		return s.Transactions.Upsert(ctx, tx)
	})
	require.NoError(t, err)

	boom := errors.New("outbox down")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = uow.Do(context.Background(), func(ctx context.Context, s Stores) error {
		if err := s.Transactions.Upsert(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutboxRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresOutboxRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO outbox_messages`)).
		WithArgs(id, "transaction-created", "key", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Enqueue(ctx, OutboxMessage{
		ID: id, Topic: "transaction-created", Key: "key", Payload: []byte(`{}`), NextAttemptAt: now, CreatedAt: now,
	}))

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "message_key", "payload", "attempts", "last_error", "next_attempt_at", "created_at"}).
			AddRow(id.String(), "transaction-created", "key", []byte(`{}`), 2, "timeout", now, now))
	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)
	assert.Equal(t, "timeout", due[0].LastError)

	mock.ExpectExec(regexp.QuoteMeta(`SET attempts = $2`)).WithArgs(id, 3, "timeout", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Reschedule(ctx, id, 3, "timeout", now))

	mock.ExpectExec(regexp.QuoteMeta(`SET published_at = $2`)).WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkPublished(ctx, id, now))

	assert.NoError(t, mock.ExpectationsWereMet())
}
