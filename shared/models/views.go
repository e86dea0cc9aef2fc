package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NamedValue is the {"name": ...} wrapper the API uses for type and status.
type NamedValue struct {
	Name string `json:"name"`
}

// TransactionView is the read-optimised projection of a transaction returned by
// the API and stored in the query cache.
type TransactionView struct {
	TransactionExternalID string          `json:"transactionExternalId"`
	TransactionType       NamedValue      `json:"transactionType"`
	TransactionStatus     NamedValue      `json:"transactionStatus"`
	Value                 decimal.Decimal `json:"value"`
	CreatedAt             time.Time       `json:"createdAt"`
}
