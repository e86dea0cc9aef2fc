package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/aggregate"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/repository"
)

// ViewCache keeps cached transaction views in step with the read model.
type ViewCache interface {
	Evict(ctx context.Context, id uuid.UUID)
	Refresh(ctx context.Context, tx *domain.Transaction)
}

// UpdateTransactionStatusHandler applies a fraud verdict.
//
// Applying the status a transaction already has is a no-op, and so is a
// redelivered verdict whose idempotency key was already used. Leaving a
// terminal status fails with apperrors.ErrInvalidTransition.
type UpdateTransactionStatusHandler struct {
	uow     repository.UnitOfWork
	cache   ViewCache
	breaker *resilience.Breaker
	now     func() time.Time
}

func NewUpdateTransactionStatusHandler(uow repository.UnitOfWork, cache ViewCache, breaker *resilience.Breaker) *UpdateTransactionStatusHandler {
	return &UpdateTransactionStatusHandler{
		uow:     uow,
		cache:   cache,
		breaker: breaker,
		now:     time.Now,
	}
}

func (h *UpdateTransactionStatusHandler) Handle(ctx context.Context, cmd cqrs.UpdateTransactionStatusCommand) (cqrs.NoResult, error) {
	log := logrus.WithFields(logrus.Fields{
		"transaction_id": cmd.TransactionExternalID,
		"status":         cmd.Status,
	})

	h.cache.Evict(ctx, cmd.TransactionExternalID)

	var current *domain.Transaction
	changed := false
	err := h.breaker.Execute(func() error {
		return h.uow.Do(ctx, func(ctx context.Context, s repository.Stores) error {
			tx, err := s.Transactions.Get(ctx, cmd.TransactionExternalID)
			if err != nil {
				return err
			}
			event, err := tx.ChangeStatus(cmd.Status, domain.StatusChangeReason, h.now())
			if err != nil {
				return err
			}
			if event == nil {
				current = tx
				return nil
			}
			if _, err := s.Events.Append(ctx, *event, cmd.SourceMessageID); err != nil {
				return err
			}
			aggregate.Apply(tx, *event)
			if err := s.Transactions.Upsert(ctx, tx); err != nil {
				return err
			}
			current = tx
			changed = true
			return nil
		})
	})
	if errors.Is(err, apperrors.ErrDuplicateEvent) {
		h.cache.Evict(ctx, cmd.TransactionExternalID)
		log.Info("status update already applied")
		return cqrs.NoResult{}, nil
	}
	if err != nil {
		return cqrs.NoResult{}, err
	}

	// Overwrites whatever a concurrent cache miss stored while the unit of
	// work was running. Misses never overwrite an existing entry.
	h.cache.Refresh(ctx, current)
	if changed {
		log.Info("transaction status updated")
	} else {
		log.Debug("transaction already has status")
	}
	return cqrs.NoResult{}, nil
}
