package store

import (
	"errors"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence boundary for account profiles and the trade
// ledger. The execution engine owns a Store by injection so tests can swap
// the backing database.
type Store interface {
	// GetOrCreateProfile returns the profile for userID, creating it with
	// defaults on first interaction.
	GetOrCreateProfile(userID int64) (*models.AccountProfile, error)
	// SaveProfile persists profile mutations made through setter commands.
	SaveProfile(profile *models.AccountProfile) error

	// CreateTrade appends a new trade record to the ledger.
	CreateTrade(trade *models.Trade) error
	// GetTrade returns the trade with the given ledger id.
	GetTrade(id uint) (*models.Trade, error)
	// ListTrades returns all trades owned by userID, oldest first.
	ListTrades(userID int64) ([]models.Trade, error)
	// ListClosedTrades returns closed trades ordered by close time, ties
	// broken by trade id, for deterministic equity curves.
	ListClosedTrades(userID int64) ([]models.Trade, error)
	// SumClosedPnl sums realized pnl over trades closed within [from, to).
	SumClosedPnl(userID int64, from, to time.Time) (decimal.Decimal, error)
	// CountOpened counts trades created within [from, to), any status.
	CountOpened(userID int64, from, to time.Time) (int64, error)

	// CloseTrade transitions an open trade to the given outcome, records
	// exit price and pnl, and applies the pnl to the owner's deposit.
	// Closing an already-closed trade is a no-op returning the stored
	// record; the deposit delta is applied at most once per trade.
	CloseTrade(id uint, exitPrice decimal.Decimal, outcome string, now time.Time) (*models.Trade, error)
}
