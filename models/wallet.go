// models/wallet.go
package models

import "time"

// LedgerEntry is one append-only wallet movement: entry fees, earnings,
// refunds. Amount is signed in currency units.
type LedgerEntry struct {
	EntryID     string    `json:"entry_id"`
	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger entry types.
const (
	EntryTypeFee      = "entry_fee"
	EntryTypeEarnings = "earnings"
	EntryTypeRefund   = "refund"
)

// WalletStats aggregates a user's ledger history.
type WalletStats struct {
	Balance     float64 `json:"balance"`
	TotalGames  int     `json:"total_games"`
	TotalFees   float64 `json:"total_fees"`
	TotalEarned float64 `json:"total_earned"`
}
