package command

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	sharedredis "github.com/FernandoCandela/app-nodejs-codechallenge/shared/redis"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/repository"
)

// pausingTransactions holds the first Get between the row read and the
// return, so the caller's cache write happens only when released.
type pausingTransactions struct {
	repository.TransactionRepository
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingTransactions) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := p.TransactionRepository.Get(ctx, id)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return tx, err
}

func TestStatusUpdateWinsOverConcurrentCacheMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	views := sharedredis.NewViewCache[models.TransactionView](client, repository.TransactionsRegion, 10*time.Minute)
	types := sharedredis.NewViewCache[models.TransactionType](client, repository.TransactionTypesRegion, time.Hour)

	uow := repository.NewMemoryUnitOfWork()
	ctx := context.Background()
	id := createOne(t, uow)

	rows := &pausingTransactions{
		TransactionRepository: uow.Stores().Transactions,
		loaded:                make(chan struct{}),
		release:               make(chan struct{}),
	}
	slowReader := repository.NewTransactionReadRepository(rows, repository.NewMemoryTransactionTypeRepository(), views, types)
	reader := repository.NewTransactionReadRepository(uow.Stores().Transactions, repository.NewMemoryTransactionTypeRepository(), views, types)

	type result struct {
		view *models.TransactionView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		view, err := slowReader.GetByID(ctx, id)
		done <- result{view, err}
	}()
	<-rows.loaded

	h := NewUpdateTransactionStatusHandler(uow, reader, testBreaker())
	_, err := h.Handle(ctx, cqrs.UpdateTransactionStatusCommand{
		TransactionExternalID: id,
		Status:                models.StatusApproved,
		SourceMessageID:       "1-0",
	})
	require.NoError(t, err)

	close(rows.release)
	raced := <-done
	require.NoError(t, raced.err)
	assert.Equal(t, "PENDING", raced.view.TransactionStatus.Name, "the read started before the update")

	view, err := reader.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", view.TransactionStatus.Name)

	raw, err := mr.Get("transactions::" + id.String())
	require.NoError(t, err)
	var cached models.TransactionView
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "APPROVED", cached.TransactionStatus.Name)
}
