package aggregate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// EventLoader is the read side of the event store the reconstructor needs.
type EventLoader interface {
	Events(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.StoredEvent, error)
}

// Reconstructor rebuilds Transaction aggregates from their event history.
type Reconstructor struct {
	events EventLoader
}

func NewReconstructor(events EventLoader) *Reconstructor {
	return &Reconstructor{events: events}
}

// Rebuild loads every event of id in version order and folds them.
func (r *Reconstructor) Rebuild(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	stored, err := r.events.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: transaction %s", apperrors.ErrNotFound, id)
	}

	tx := &domain.Transaction{}
	for _, s := range stored {
		event, err := s.Decode()
		if err != nil {
			return nil, err
		}
		Apply(tx, event)
	}
	return tx, nil
}

// Apply folds a single event into tx. Events of unknown types are logged and
// skipped so that older builds can read newer logs.
func Apply(tx *domain.Transaction, event domain.Event) {
	if !tx.Apply(event) {
		logrus.WithFields(logrus.Fields{
			"aggregate_id": event.AggregateID(),
			"event_type":   event.EventType(),
		}).Warn("skipping unknown event type")
	}
}
