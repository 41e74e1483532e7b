package report

import (
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ledger is the read-side view of the trade ledger the aggregator needs.
type Ledger interface {
	ListTrades(userID int64) ([]models.Trade, error)
	ListClosedTrades(userID int64) ([]models.Trade, error)
}

// Summary is the derived performance figures for one user.
// Wins and losses are counted by the sign of realized pnl, not by the
// stored outcome label, which a caller may set inconsistently.
type Summary struct {
	TotalTrades  int
	ClosedTrades int
	Wins         int
	Losses       int
	WinRate      decimal.Decimal
	TotalPnl     decimal.Decimal
	AverageWin   decimal.Decimal
	AverageLoss  decimal.Decimal
}

// EquityPoint is one step of the cumulative realized pnl curve.
type EquityPoint struct {
	Time    time.Time
	TradeID uint
	Equity  decimal.Decimal
}

// Aggregator derives reporting figures from the ledger. Pure reads, no
// side effects.
type Aggregator struct {
	ledger Ledger
}

// NewAggregator creates an aggregator reading from the given ledger.
func NewAggregator(ledger Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// Summarize computes trade counts, win rate, total pnl and average win/loss
// for the user. Ratios are zero when their denominator is empty.
func (a *Aggregator) Summarize(userID int64) (*Summary, error) {
	trades, err := a.ledger.ListTrades(userID)
	if err != nil {
		return nil, fmt.Errorf("could not list trades: %w", err)
	}

	s := &Summary{
		TotalTrades: len(trades),
		WinRate:     decimal.Zero,
		TotalPnl:    decimal.Zero,
		AverageWin:  decimal.Zero,
		AverageLoss: decimal.Zero,
	}

	winSum := decimal.Zero
	lossSum := decimal.Zero
	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		s.ClosedTrades++
		s.TotalPnl = s.TotalPnl.Add(t.Pnl)
		if t.Pnl.IsPositive() {
			s.Wins++
			winSum = winSum.Add(t.Pnl)
		} else {
			s.Losses++
			lossSum = lossSum.Add(t.Pnl)
		}
	}

	if s.ClosedTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(s.ClosedTrades))).
			Mul(hundred)
	}
	if s.Wins > 0 {
		s.AverageWin = winSum.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AverageLoss = lossSum.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	return s, nil
}

// EquityCurve returns the cumulative realized pnl over closed trades,
// ordered by close time with ties broken by trade id.
func (a *Aggregator) EquityCurve(userID int64) ([]EquityPoint, error) {
	trades, err := a.ledger.ListClosedTrades(userID)
	if err != nil {
		return nil, fmt.Errorf("could not list closed trades: %w", err)
	}

	curve := make([]EquityPoint, 0, len(trades))
	equity := decimal.Zero
	for _, t := range trades {
		equity = equity.Add(t.Pnl)
		point := EquityPoint{TradeID: t.ID, Equity: equity}
		if t.ClosedAt != nil {
			point.Time = *t.ClosedAt
		}
		curve = append(curve, point)
	}
	return curve, nil
}
