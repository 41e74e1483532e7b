package risk

import (
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger is the read-side view of the trade ledger the gate needs.
type Ledger interface {
	SumClosedPnl(userID int64, from, to time.Time) (decimal.Decimal, error)
	CountOpened(userID int64, from, to time.Time) (int64, error)
}

// Decision is the outcome of a gate evaluation. Reason is set only on
// rejection and names the first limit that tripped.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate evaluates whether a user may open a new trade given realized pnl
// over the current UTC day and ISO week plus the trades-per-day ceiling.
// The gate has no side effects beyond ledger reads.
type Gate struct {
	ledger Ledger
}

// NewGate creates a risk gate reading from the given ledger.
func NewGate(ledger Ledger) *Gate {
	return &Gate{ledger: ledger}
}

// CanOpen checks the daily drawdown, weekly drawdown and trade-count limits
// in that order, so the first breached limit is the surfaced reason.
// A profile without a positive deposit always passes: risk percentages are
// meaningless without a capital basis.
func (g *Gate) CanOpen(profile *models.AccountProfile, now time.Time) (Decision, error) {
	if profile.Deposit.LessThanOrEqual(decimal.Zero) {
		return Decision{Allowed: true}, nil
	}

	dayStart := StartOfUTCDay(now)
	dayEnd := dayStart.Add(24 * time.Hour)

	dayPnl, err := g.ledger.SumClosedPnl(profile.UserID, dayStart, dayEnd)
	if err != nil {
		return Decision{}, fmt.Errorf("could not read daily pnl: %w", err)
	}
	dayPct := dayPnl.Div(profile.Deposit).Mul(hundred)
	dayLimit := profile.LimitDailyPercent.Abs().Neg()
	if dayPct.LessThanOrEqual(dayLimit) {
		return Decision{
			Reason: fmt.Sprintf("daily loss limit reached: %s%% <= -%s%%",
				dayPct.StringFixed(2), profile.LimitDailyPercent.Abs().String()),
		}, nil
	}

	weekStart := StartOfISOWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	weekPnl, err := g.ledger.SumClosedPnl(profile.UserID, weekStart, weekEnd)
	if err != nil {
		return Decision{}, fmt.Errorf("could not read weekly pnl: %w", err)
	}
	weekPct := weekPnl.Div(profile.Deposit).Mul(hundred)
	weekLimit := profile.LimitWeeklyPercent.Abs().Neg()
	if weekPct.LessThanOrEqual(weekLimit) {
		return Decision{
			Reason: fmt.Sprintf("weekly loss limit reached: %s%% <= -%s%%",
				weekPct.StringFixed(2), profile.LimitWeeklyPercent.Abs().String()),
		}, nil
	}

	tradesToday, err := g.ledger.CountOpened(profile.UserID, dayStart, dayEnd)
	if err != nil {
		return Decision{}, fmt.Errorf("could not count today's trades: %w", err)
	}
	if tradesToday >= int64(profile.LimitMaxTradesPerDay) {
		return Decision{
			Reason: fmt.Sprintf("max trades per day reached: %d of %d",
				tradesToday, profile.LimitMaxTradesPerDay),
		}, nil
	}

	return Decision{Allowed: true}, nil
}
