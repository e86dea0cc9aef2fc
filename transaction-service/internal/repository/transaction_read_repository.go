package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

// Cache regions and their keys.
const (
	TransactionsRegion     = "transactions"
	TransactionTypesRegion = "transaction-types"
)

// ViewCache is the cache-aside contract of shared/redis.ViewCache.
type ViewCache[T any] interface {
	Get(ctx context.Context, key string) (*T, bool)
	Set(ctx context.Context, key string, value *T)
	SetIfAbsent(ctx context.Context, key string, value *T) bool
	Delete(ctx context.Context, key string)
}

// TransactionReadRepository serves transaction views. It reads the cache
// first and falls back to the read model on a miss, warming the cache.
// A cache outage only costs the fallback.
//
// Views loaded on a miss are only written when the key is still empty, so a
// read that loaded a row before a status update cannot replace the view the
// update stored with Refresh.
type TransactionReadRepository struct {
	transactions TransactionRepository
	types        TransactionTypeRepository
	cache        ViewCache[models.TransactionView]
	typeCache    ViewCache[models.TransactionType]
}

func NewTransactionReadRepository(
	transactions TransactionRepository,
	types TransactionTypeRepository,
	cache ViewCache[models.TransactionView],
	typeCache ViewCache[models.TransactionType],
) *TransactionReadRepository {
	return &TransactionReadRepository{
		transactions: transactions,
		types:        types,
		cache:        cache,
		typeCache:    typeCache,
	}
}

// GetByID returns the view of id, or apperrors.ErrNotFound.
func (r *TransactionReadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TransactionView, error) {
	key := id.String()
	if view, ok := r.cache.Get(ctx, key); ok {
		return view, nil
	}

	tx, err := r.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tt, err := r.TransactionType(ctx, tx.TransferTypeID)
	if err != nil {
		return nil, err
	}

	view := ToView(tx, tt)
	r.cache.SetIfAbsent(ctx, key, view)
	return view, nil
}

// TransactionType returns the descriptor of id through the type cache.
func (r *TransactionReadRepository) TransactionType(ctx context.Context, id int) (models.TransactionType, error) {
	key := strconv.Itoa(id)
	if tt, ok := r.typeCache.Get(ctx, key); ok {
		return *tt, nil
	}
	tt, err := r.types.Get(ctx, id)
	if err != nil {
		return tt, err
	}
	r.typeCache.Set(ctx, key, &tt)
	return tt, nil
}

// Evict drops the cached view of id.
func (r *TransactionReadRepository) Evict(ctx context.Context, id uuid.UUID) {
	r.cache.Delete(ctx, id.String())
}

// Refresh stores the current view of tx, replacing any cached one. When the
// transfer type cannot be resolved the entry is evicted instead.
func (r *TransactionReadRepository) Refresh(ctx context.Context, tx *domain.Transaction) {
	tt, err := r.TransactionType(ctx, tx.TransferTypeID)
	if err != nil {
		r.Evict(ctx, tx.ID)
		return
	}
	r.cache.Set(ctx, tx.ID.String(), ToView(tx, tt))
}

// ToView maps a transaction to its API representation.
func ToView(tx *domain.Transaction, tt models.TransactionType) *models.TransactionView {
	return &models.TransactionView{
		TransactionExternalID: tx.ID.String(),
		TransactionType:       models.NamedValue{Name: tt.Name},
		TransactionStatus:     models.NamedValue{Name: string(tx.Status)},
		Value:                 tx.Value,
		CreatedAt:             tx.CreatedAt,
	}
}
