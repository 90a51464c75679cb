// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/snaked/gameserver/models"
)

// GormStore is the GORM-backed wallet store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&WalletModel{}, &LedgerEntryModel{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// WalletModel is one user's spendable balance.
type WalletModel struct {
	ID        uint    `gorm:"primaryKey"`
	UserID    int64   `gorm:"uniqueIndex;not null"`
	Balance   float64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntryModel is an append-only wallet movement. Rows are never
// updated or deleted.
type LedgerEntryModel struct {
	ID          uint    `gorm:"primaryKey"`
	EntryID     string  `gorm:"uniqueIndex;not null"`
	UserID      int64   `gorm:"index;not null"`
	Type        string  `gorm:"not null"`
	Amount      float64 `gorm:"not null"`
	Description string
	CreatedAt   time.Time
}

func (s *GormStore) Balance(ctx context.Context, userID int64) (float64, error) {
	var wallet WalletModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *GormStore) Apply(ctx context.Context, userID int64, amount float64, entryType, description string) (string, error) {
	entryID := uuid.New().String()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet WalletModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error
		if err == gorm.ErrRecordNotFound {
			wallet = WalletModel{UserID: userID, Balance: 0}
			if err := tx.Create(&wallet).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if wallet.Balance+amount < 0 {
			return ErrInsufficientFunds
		}

		if err := tx.Model(&wallet).Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
			return err
		}

		entry := LedgerEntryModel{
			EntryID:     entryID,
			UserID:      userID,
			Type:        entryType,
			Amount:      amount,
			Description: description,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

func (s *GormStore) Entries(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	var rows []LedgerEntryModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]models.LedgerEntry, len(rows))
	for i, row := range rows {
		entries[i] = models.LedgerEntry{
			EntryID:     row.EntryID,
			UserID:      row.UserID,
			Type:        row.Type,
			Amount:      row.Amount,
			Description: row.Description,
			CreatedAt:   row.CreatedAt,
		}
	}
	return entries, nil
}

func (s *GormStore) Stats(ctx context.Context, userID int64) (*models.WalletStats, error) {
	stats := &models.WalletStats{}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.Balance = balance

	err = s.db.WithContext(ctx).Raw(`
        SELECT
            COUNT(*) FILTER (WHERE type = ?) AS total_games,
            COALESCE(-SUM(amount) FILTER (WHERE type = ?), 0) AS total_fees,
            COALESCE(SUM(amount) FILTER (WHERE type = ?), 0) AS total_earned
        FROM ledger_entry_models
        WHERE user_id = ?`,
		models.EntryTypeFee, models.EntryTypeFee, models.EntryTypeEarnings, userID,
	).Row().Scan(&stats.TotalGames, &stats.TotalFees, &stats.TotalEarned)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
