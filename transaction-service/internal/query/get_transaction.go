package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

// TransactionReader is the cache-aside read repository.
type TransactionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TransactionView, error)
}

// GetTransactionHandler serves single transaction reads.
type GetTransactionHandler struct {
	reader  TransactionReader
	breaker *resilience.Breaker
}

func NewGetTransactionHandler(reader TransactionReader, breaker *resilience.Breaker) *GetTransactionHandler {
	return &GetTransactionHandler{reader: reader, breaker: breaker}
}

func (h *GetTransactionHandler) Handle(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	var view *models.TransactionView
	err := h.breaker.Execute(func() error {
		v, err := h.reader.GetByID(ctx, q.TransactionExternalID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
