package models

import "fmt"

// TransactionStatus is the lifecycle state of a transfer. PENDING is the only
// non-terminal status.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusRejected TransactionStatus = "REJECTED"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ParseStatus accepts the wire spelling of a status.
func ParseStatus(raw string) (TransactionStatus, error) {
	s := TransactionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}

// TransactionType describes a transfer type (the transaction_types table).
type TransactionType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
