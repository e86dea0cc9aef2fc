package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/aggregate"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/repository"
)

// OutboxGracePeriod is how long the relay leaves a fresh outbox row alone so
// that the handler's own publish can mark it first.
const OutboxGracePeriod = time.Minute

// CreatedPublisher builds and publishes the created integration event.
type CreatedPublisher interface {
	CreatedEvent(tx *domain.Transaction) (events.Event, error)
	PublishEvent(ctx context.Context, topic string, event events.Event) (events.PublishResult, error)
}

// TypeLookup resolves transfer type descriptors.
type TypeLookup interface {
	TransactionType(ctx context.Context, id int) (models.TransactionType, error)
}

// CreateTransactionHandler records a new transaction and announces it.
//
// The event, the read-model row and the outbox row are written in one unit of
// work. Publishing happens after commit; if it fails the transaction is kept,
// the view is returned together with an apperrors.ErrPublishUnavailable error,
// and the outbox relay sends the event later.
type CreateTransactionHandler struct {
	uow       repository.UnitOfWork
	types     TypeLookup
	publisher CreatedPublisher
	breaker   *resilience.Breaker
	now       func() time.Time
}

func NewCreateTransactionHandler(
	uow repository.UnitOfWork,
	types TypeLookup,
	publisher CreatedPublisher,
	breaker *resilience.Breaker,
) *CreateTransactionHandler {
	return &CreateTransactionHandler{
		uow:       uow,
		types:     types,
		publisher: publisher,
		breaker:   breaker,
		now:       time.Now,
	}
}

func (h *CreateTransactionHandler) Handle(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.TransactionView, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	now := h.now().UTC()
	created := domain.NewTransactionCreated(
		uuid.New(), cmd.AccountExternalIDDebit, cmd.AccountExternalIDCredit,
		cmd.TransferTypeID, cmd.Value, now,
	)
	tx := &domain.Transaction{}
	aggregate.Apply(tx, created)

	var (
		view     *models.TransactionView
		envelope events.Event
		outboxID = uuid.New()
	)
	err := h.breaker.Execute(func() error {
		return h.uow.Do(ctx, func(ctx context.Context, s repository.Stores) error {
			tt, err := h.types.TransactionType(ctx, cmd.TransferTypeID)
			if err != nil {
				return err
			}
			if _, err := s.Events.Append(ctx, created, ""); err != nil {
				return err
			}
			if err := s.Transactions.Upsert(ctx, tx); err != nil {
				return err
			}

			envelope, err = h.publisher.CreatedEvent(tx)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(envelope)
			if err != nil {
				return fmt.Errorf("%w: failed to encode outbox payload: %w", apperrors.ErrSerialization, err)
			}
			if err := s.Outbox.Enqueue(ctx, repository.OutboxMessage{
				ID:            outboxID,
				Topic:         events.TransactionCreatedTopic,
				Key:           envelope.Key,
				Payload:       payload,
				NextAttemptAt: now.Add(OutboxGracePeriod),
				CreatedAt:     now,
			}); err != nil {
				return err
			}

			view = repository.ToView(tx, tt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("transaction_id", tx.ID)
	result, err := h.publisher.PublishEvent(ctx, events.TransactionCreatedTopic, envelope)
	if err != nil {
		log.WithError(err).Warn("transaction saved, created event deferred to outbox relay")
		return view, fmt.Errorf("transaction %s saved but not announced: %w", tx.ID, err)
	}
	if err := h.uow.Stores().Outbox.MarkPublished(ctx, outboxID, h.now().UTC()); err != nil {
		log.WithError(err).Warn("failed to mark outbox message published")
	}

	log.WithFields(logrus.Fields{
		"stream":     result.Stream,
		"message_id": result.ID,
	}).Info("transaction created")
	return view, nil
}

func validateCreate(cmd cqrs.CreateTransactionCommand) error {
	switch {
	case cmd.AccountExternalIDDebit == uuid.Nil:
		return fmt.Errorf("%w: accountExternalIdDebit is required", apperrors.ErrValidation)
	case cmd.AccountExternalIDCredit == uuid.Nil:
		return fmt.Errorf("%w: accountExternalIdCredit is required", apperrors.ErrValidation)
	case cmd.TransferTypeID <= 0:
		return fmt.Errorf("%w: tranferTypeId must be positive", apperrors.ErrValidation)
	case !cmd.Value.IsPositive():
		return fmt.Errorf("%w: value must be greater than zero", apperrors.ErrValidation)
	case !cmd.Value.Equal(cmd.Value.Truncate(domain.ValueScale)):
		return fmt.Errorf("%w: value must have at most %d decimal places", apperrors.ErrValidation, domain.ValueScale)
	case cmd.Value.GreaterThanOrEqual(domain.MaxValue):
		return fmt.Errorf("%w: value must be less than %s", apperrors.ErrValidation, domain.MaxValue)
	}
	return nil
}
