package cqrs

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

const (
	CreateTransaction       RequestType = "CreateTransaction"
	UpdateTransactionStatus RequestType = "UpdateTransactionStatus"
)

type CreateTransactionCommand struct {
	AccountExternalIDDebit  uuid.UUID
	AccountExternalIDCredit uuid.UUID
	TransferTypeID          int
	Value                   decimal.Decimal
}

func (CreateTransactionCommand) RequestType() RequestType { return CreateTransaction }

// UpdateTransactionStatusCommand applies a fraud verdict. SourceMessageID, when
// set, is the broker id of the message that carried the verdict and becomes
// the idempotency key of the appended event.
type UpdateTransactionStatusCommand struct {
	TransactionExternalID uuid.UUID
	Status                models.TransactionStatus
	SourceMessageID       string
}

func (UpdateTransactionStatusCommand) RequestType() RequestType { return UpdateTransactionStatus }
