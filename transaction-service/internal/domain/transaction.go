package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// StatusChangeReason is recorded on verdicts coming from the antifraud service.
const StatusChangeReason = "Status updated via antifraud validation"

// ValueScale is the number of fractional digits a transaction value keeps.
const ValueScale = 2

// MaxValue is the exclusive upper bound of a transaction value, the range of
// the NUMERIC(19, 2) value column.
var MaxValue = decimal.New(1, 17)

// eventTime drops the precision PostgreSQL timestamps cannot hold, so a row
// read back equals the fold of the log.
func eventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Transaction is the write-side aggregate. Its state is the fold of its events.
type Transaction struct {
	ID              uuid.UUID
	DebitAccountID  uuid.UUID
	CreditAccountID uuid.UUID
	TransferTypeID  int
	Value           decimal.Decimal
	Status          models.TransactionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewTransactionCreated builds the first event of a new aggregate.
func NewTransactionCreated(id, debit, credit uuid.UUID, transferTypeID int, value decimal.Decimal, now time.Time) TransactionCreated {
	return TransactionCreated{
		TransactionID:   id,
		DebitAccountID:  debit,
		CreditAccountID: credit,
		TransferTypeID:  transferTypeID,
		Value:           value.Round(ValueScale),
		Timestamp:       eventTime(now),
	}
}

// Apply folds one event into t. It reports false for events it skipped.
func (t *Transaction) Apply(e Event) bool {
	switch e := e.(type) {
	case TransactionCreated:
		t.ID = e.TransactionID
		t.DebitAccountID = e.DebitAccountID
		t.CreditAccountID = e.CreditAccountID
		t.TransferTypeID = e.TransferTypeID
		t.Value = e.Value
		t.Status = models.StatusPending
		t.CreatedAt = e.Timestamp
		t.UpdatedAt = e.Timestamp
		return true
	case TransactionStatusChanged:
		t.Status = e.NewStatus
		t.UpdatedAt = e.Timestamp
		return true
	default:
		return false
	}
}

// ChangeStatus decides the event for moving t to status. It returns nil when
// t already has that status. Leaving a terminal status is rejected.
func (t *Transaction) ChangeStatus(status models.TransactionStatus, reason string, now time.Time) (*TransactionStatusChanged, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	if t.Status == status {
		return nil, nil
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: transaction %s is already %s, cannot move to %s", apperrors.ErrInvalidTransition, t.ID, t.Status, status)
	}
	return &TransactionStatusChanged{
		TransactionID: t.ID,
		OldStatus:     t.Status,
		NewStatus:     status,
		Reason:        reason,
		Timestamp:     eventTime(now),
	}, nil
}
