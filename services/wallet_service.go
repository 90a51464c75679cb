// services/wallet_service.go
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/snaked/gameserver/ledger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/persistence"
)

// ErrInsufficientBalance aliases the ledger sentinel so callers on
// either side of the interface match the same error.
var ErrInsufficientBalance = ledger.ErrInsufficientBalance

// Wallet implements the ledger collaborator consumed by the lobby:
// authoritative balances and append-only entries live in the store,
// reservations are process-local holds that never touch the ledger.
//
// Invariant: every Reserve is matched by exactly one Release, either
// explicit or inside Settle.
type Wallet struct {
	store   persistence.Store
	mu      sync.Mutex
	pending map[int64]float64
}

func NewWallet(store persistence.Store) *Wallet {
	return &Wallet{
		store:   store,
		pending: make(map[int64]float64),
	}
}

func (w *Wallet) GetBalance(ctx context.Context, userID int64) (float64, error) {
	return w.store.Balance(ctx, userID)
}

// Reserve places a provisional hold of amount on the user's balance.
// Fails with ErrInsufficientBalance when balance minus existing holds
// does not cover amount. The pending check runs under the lock, so two
// racing reservations cannot both fit into the same balance.
func (w *Wallet) Reserve(ctx context.Context, userID int64, amount float64) error {
	balance, err := w.store.Balance(ctx, userID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if balance-w.pending[userID] < amount {
		return ErrInsufficientBalance
	}
	w.pending[userID] += amount
	return nil
}

// Release drops a hold without charging anything.
func (w *Wallet) Release(userID int64, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[userID] -= amount
	if w.pending[userID] <= 0 {
		delete(w.pending, userID)
	}
}

// Settle converts a hold into a real debit plus ledger entry. The
// balance is re-read inside the store transaction; a stale reservation
// surfaces as ErrInsufficientBalance. The hold is released either way.
func (w *Wallet) Settle(ctx context.Context, userID int64, amount float64, description string) (string, error) {
	defer w.Release(userID, amount)

	entryID, err := w.store.Apply(ctx, userID, -amount, models.EntryTypeFee, description)
	if errors.Is(err, persistence.ErrInsufficientFunds) {
		return "", ErrInsufficientBalance
	}
	return entryID, err
}

// Credit adds earnings to the balance with a ledger entry.
func (w *Wallet) Credit(ctx context.Context, userID int64, amount float64, description string) (string, error) {
	return w.store.Apply(ctx, userID, amount, models.EntryTypeEarnings, description)
}

// Refund returns an already-settled fee, e.g. when a player disconnects
// between settlement and being seated.
func (w *Wallet) Refund(ctx context.Context, userID int64, amount float64, description string) (string, error) {
	return w.store.Apply(ctx, userID, amount, models.EntryTypeRefund, description)
}

// Pending returns the sum of the user's outstanding holds.
func (w *Wallet) Pending(userID int64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending[userID]
}

func (w *Wallet) Stats(ctx context.Context, userID int64) (*models.WalletStats, error) {
	return w.store.Stats(ctx, userID)
}
