package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trading modes for an account profile.
const (
	ModeSignal = "signal" // record paper signals only
	ModeAuto   = "auto"   // place live orders on the exchange
)

// AccountProfile holds the per-user trading configuration and risk limits.
// Profiles are created lazily on first interaction and never deleted.
type AccountProfile struct {
	gorm.Model
	UserID               int64  `gorm:"uniqueIndex;not null"`
	Mode                 string `gorm:"not null;default:signal"`
	APIKey               string
	APISecret            string
	UseTestnet           bool            `gorm:"not null;default:true"`
	Deposit              decimal.Decimal `gorm:"type:decimal(32,8)"`
	RiskPercent          decimal.Decimal `gorm:"type:decimal(32,8)"`
	LimitDailyPercent    decimal.Decimal `gorm:"type:decimal(32,8)"`
	LimitWeeklyPercent   decimal.Decimal `gorm:"type:decimal(32,8)"`
	LimitMaxTradesPerDay int             `gorm:"not null"`
}

// HasCredentials reports whether the profile carries an exchange API key pair.
func (p *AccountProfile) HasCredentials() bool {
	return p.APIKey != "" && p.APISecret != ""
}
