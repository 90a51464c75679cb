// ledger/ledger.go
package ledger

import (
	"context"
	"errors"
)

// Ledger is the external balance collaborator the lobby settles entry
// fees against. Reserve places a provisional hold, Release drops it
// without a charge, Settle converts it into a real debit plus an
// append-only entry, Credit and Refund add value back.
//
// Implementations treat every call as a remote operation that can fail
// or race; Settle re-reads the authoritative balance rather than
// trusting anything cached.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (float64, error)
	Reserve(ctx context.Context, userID int64, amount float64) error
	Release(userID int64, amount float64)
	Settle(ctx context.Context, userID int64, amount float64, description string) (string, error)
	Credit(ctx context.Context, userID int64, amount float64, description string) (string, error)
	Refund(ctx context.Context, userID int64, amount float64, description string) (string, error)
}

// ErrInsufficientBalance is returned by Reserve and Settle when the
// spendable balance (minus holds) cannot cover the amount.
var ErrInsufficientBalance = errors.New("insufficient balance")
