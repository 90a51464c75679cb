// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/snaked/gameserver/models"
)

// Store is the durable side of the wallet: authoritative balances plus
// an append-only ledger. Two implementations exist, GORM (default) and
// raw database/sql over lib/pq.
type Store interface {
	// Balance returns the user's spendable balance. Unknown users have a
	// zero balance, not an error.
	Balance(ctx context.Context, userID int64) (float64, error)
	// Apply atomically moves the balance by amount (negative for debits)
	// and appends a ledger entry, returning the entry id. A debit that
	// would leave the balance negative fails with ErrInsufficientFunds
	// and writes nothing.
	Apply(ctx context.Context, userID int64, amount float64, entryType, description string) (string, error)
	// Entries returns the most recent ledger entries for a user.
	Entries(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
	// Stats aggregates a user's ledger history.
	Stats(ctx context.Context, userID int64) (*models.WalletStats, error)
	Close() error
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
)
