package cqrs

import "github.com/google/uuid"

const (
	GetTransaction RequestType = "GetTransaction"
)

// GetTransactionQuery fetches a single transaction by its external id.
type GetTransactionQuery struct {
	TransactionExternalID uuid.UUID
}

func (GetTransactionQuery) RequestType() RequestType { return GetTransaction }
