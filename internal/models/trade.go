package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade lifecycle states. A trade is created as signal_open (paper) or
// open (live) and transitions exactly once to win or loss.
const (
	StatusSignalOpen = "signal_open"
	StatusOpen       = "open"
	StatusWin        = "win"
	StatusLoss       = "loss"
)

// Trade represents one tracked position in the ledger.
// Records are append-only: a trade is mutated once on close, never deleted.
type Trade struct {
	gorm.Model
	UserID     int64               `gorm:"index;not null" json:"user_id"`
	Symbol     string              `gorm:"not null" json:"symbol"`
	Entry      decimal.Decimal     `gorm:"type:decimal(32,8)" json:"entry"`
	TakeProfit decimal.Decimal     `gorm:"type:decimal(32,8)" json:"take_profit"`
	StopLoss   decimal.Decimal     `gorm:"type:decimal(32,8)" json:"stop_loss"`
	Volume     decimal.Decimal     `gorm:"type:decimal(32,8)" json:"volume"`
	Status     string              `gorm:"index;not null" json:"status"`
	ExitPrice  decimal.NullDecimal `gorm:"type:decimal(32,8)" json:"exit_price"`
	Pnl        decimal.Decimal     `gorm:"type:decimal(32,8)" json:"pnl"`
	ClosedAt   *time.Time          `gorm:"index" json:"closed_at"`
}

// IsClosed reports whether the trade has reached a terminal state.
func (t *Trade) IsClosed() bool {
	return t.Status == StatusWin || t.Status == StatusLoss
}
