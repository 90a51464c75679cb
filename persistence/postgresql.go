// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/snaked/gameserver/models"
)

// PQStore is the raw database/sql wallet store, for deployments that do
// not want GORM in the dependency tree.
type PQStore struct {
	db *sql.DB
}

func NewPQStore(host string, port int, user, password, dbname string) (*PQStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PQStore{db: db}, nil
}

func initTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS wallets (
            id SERIAL PRIMARY KEY,
            user_id BIGINT UNIQUE NOT NULL,
            balance DOUBLE PRECISION NOT NULL DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS ledger_entries (
            id SERIAL PRIMARY KEY,
            entry_id TEXT UNIQUE NOT NULL,
            user_id BIGINT NOT NULL,
            type TEXT NOT NULL,
            amount DOUBLE PRECISION NOT NULL,
            description TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_id ON ledger_entries (user_id)`)
	return err
}

func (s *PQStore) Balance(ctx context.Context, userID int64) (float64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PQStore) Apply(ctx context.Context, userID int64, amount float64, entryType, description string) (string, error) {
	entryID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Row lock serializes concurrent movements on the same wallet.
	var balance float64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		balance = 0
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (user_id, balance) VALUES ($1, 0)`, userID); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	if balance+amount < 0 {
		return "", ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP WHERE user_id = $2`,
		amount, userID); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (entry_id, user_id, type, amount, description) VALUES ($1, $2, $3, $4, $5)`,
		entryID, userID, entryType, amount, description); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return entryID, nil
}

func (s *PQStore) Entries(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, user_id, type, amount, description, created_at
         FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.Type, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PQStore) Stats(ctx context.Context, userID int64) (*models.WalletStats, error) {
	stats := &models.WalletStats{}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.Balance = balance

	err = s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE type = $1),
            COALESCE(-SUM(amount) FILTER (WHERE type = $1), 0),
            COALESCE(SUM(amount) FILTER (WHERE type = $2), 0)
        FROM ledger_entries
        WHERE user_id = $3`,
		models.EntryTypeFee, models.EntryTypeEarnings, userID,
	).Scan(&stats.TotalGames, &stats.TotalFees, &stats.TotalEarned)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PQStore) Close() error {
	return s.db.Close()
}
