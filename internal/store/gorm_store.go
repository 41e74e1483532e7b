package store

import (
	"errors"
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var closedStatuses = []string{models.StatusWin, models.StatusLoss}

// ProfileDefaults are applied to lazily created account profiles.
type ProfileDefaults struct {
	UseTestnet           bool
	LimitDailyPercent    decimal.Decimal
	LimitWeeklyPercent   decimal.Decimal
	LimitMaxTradesPerDay int
}

// GormStore implements Store on top of a gorm database handle.
type GormStore struct {
	db       *gorm.DB
	defaults ProfileDefaults
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a Store backed by the given database.
func NewGormStore(db *gorm.DB, defaults ProfileDefaults) *GormStore {
	return &GormStore{db: db, defaults: defaults}
}

// GetOrCreateProfile returns the profile for userID, creating it with the
// configured defaults on first interaction.
func (s *GormStore) GetOrCreateProfile(userID int64) (*models.AccountProfile, error) {
	profile := models.AccountProfile{
		UserID:               userID,
		Mode:                 models.ModeSignal,
		UseTestnet:           s.defaults.UseTestnet,
		LimitDailyPercent:    s.defaults.LimitDailyPercent,
		LimitWeeklyPercent:   s.defaults.LimitWeeklyPercent,
		LimitMaxTradesPerDay: s.defaults.LimitMaxTradesPerDay,
	}
	err := s.db.Where(models.AccountProfile{UserID: userID}).FirstOrCreate(&profile).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get or create profile for user %d: %w", userID, err)
	}
	return &profile, nil
}

// SaveProfile persists profile mutations.
func (s *GormStore) SaveProfile(profile *models.AccountProfile) error {
	if err := s.db.Save(profile).Error; err != nil {
		return fmt.Errorf("failed to save profile for user %d: %w", profile.UserID, err)
	}
	return nil
}

// CreateTrade appends a new trade record to the ledger.
func (s *GormStore) CreateTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade record: %w", err)
	}
	return nil
}

// GetTrade returns the trade with the given ledger id.
func (s *GormStore) GetTrade(id uint) (*models.Trade, error) {
	var trade models.Trade
	if err := s.db.First(&trade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load trade %d: %w", id, err)
	}
	return &trade, nil
}

// ListTrades returns all trades owned by userID, oldest first.
func (s *GormStore) ListTrades(userID int64) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.Where("user_id = ?", userID).Order("id asc").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades for user %d: %w", userID, err)
	}
	return trades, nil
}

// ListClosedTrades returns closed trades ordered by close time then id.
func (s *GormStore) ListClosedTrades(userID int64) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.
		Where("user_id = ? AND status IN ?", userID, closedStatuses).
		Order("closed_at asc, id asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list closed trades for user %d: %w", userID, err)
	}
	return trades, nil
}

// SumClosedPnl sums realized pnl over trades closed within [from, to).
// The sum runs in Go because pnl columns are stored as decimals.
func (s *GormStore) SumClosedPnl(userID int64, from, to time.Time) (decimal.Decimal, error) {
	var trades []models.Trade
	err := s.db.
		Where("user_id = ? AND status IN ? AND closed_at >= ? AND closed_at < ?",
			userID, closedStatuses, from, to).
		Find(&trades).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum closed pnl for user %d: %w", userID, err)
	}

	sum := decimal.Zero
	for _, t := range trades {
		sum = sum.Add(t.Pnl)
	}
	return sum, nil
}

// CountOpened counts trades created within [from, to), any status.
func (s *GormStore) CountOpened(userID int64, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.Trade{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count trades for user %d: %w", userID, err)
	}
	return count, nil
}

// CloseTrade transitions an open trade to the given outcome inside a single
// transaction, so the trade update and the owner's deposit adjustment land
// together. The deposit delta is applied only on the open->closed transition,
// which makes retried closes idempotent.
func (s *GormStore) CloseTrade(id uint, exitPrice decimal.Decimal, outcome string, now time.Time) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&trade, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("trade %d: %w", id, ErrNotFound)
			}
			return err
		}
		if trade.IsClosed() {
			return nil
		}

		pnl := exitPrice.Sub(trade.Entry).Mul(trade.Volume)
		closedAt := now
		trade.Status = outcome
		trade.ExitPrice = decimal.NewNullDecimal(exitPrice)
		trade.Pnl = pnl
		trade.ClosedAt = &closedAt
		if err := tx.Save(&trade).Error; err != nil {
			return err
		}

		var profile models.AccountProfile
		if err := tx.Where("user_id = ?", trade.UserID).First(&profile).Error; err != nil {
			return err
		}
		profile.Deposit = profile.Deposit.Add(pnl)
		return tx.Save(&profile).Error
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}
