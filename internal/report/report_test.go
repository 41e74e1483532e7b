package report

import (
	"errors"
	"testing"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeLedger struct {
	trades []models.Trade
	err    error
}

func (f *fakeLedger) ListTrades(userID int64) ([]models.Trade, error) {
	return f.trades, f.err
}

func (f *fakeLedger) ListClosedTrades(userID int64) ([]models.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	var closed []models.Trade
	for _, t := range f.trades {
		if t.IsClosed() {
			closed = append(closed, t)
		}
	}
	return closed, nil
}

func closedTrade(id uint, pnl string, closedAt time.Time) models.Trade {
	status := models.StatusWin
	if dec(pnl).IsNegative() {
		status = models.StatusLoss
	}
	return models.Trade{
		Model:    gorm.Model{ID: id},
		UserID:   1,
		Symbol:   "BTCUSDT",
		Status:   status,
		Pnl:      dec(pnl),
		ClosedAt: &closedAt,
	}
}

func openTrade(id uint) models.Trade {
	return models.Trade{
		Model:  gorm.Model{ID: id},
		UserID: 1,
		Symbol: "BTCUSDT",
		Status: models.StatusOpen,
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now().UTC()

	t.Run("MixedLedger", func(t *testing.T) {
		ledger := &fakeLedger{trades: []models.Trade{
			closedTrade(1, "20", now),
			closedTrade(2, "-10", now),
			closedTrade(3, "40", now),
			closedTrade(4, "-30", now),
			openTrade(5),
		}}
		agg := NewAggregator(ledger)

		s, err := agg.Summarize(1)
		require.NoError(t, err)
		assert.Equal(t, 5, s.TotalTrades)
		assert.Equal(t, 4, s.ClosedTrades)
		assert.Equal(t, 2, s.Wins)
		assert.Equal(t, 2, s.Losses)
		assert.True(t, s.WinRate.Equal(dec("50")), "win rate %s", s.WinRate)
		assert.True(t, s.TotalPnl.Equal(dec("20")), "total pnl %s", s.TotalPnl)
		assert.True(t, s.AverageWin.Equal(dec("30")), "avg win %s", s.AverageWin)
		assert.True(t, s.AverageLoss.Equal(dec("-20")), "avg loss %s", s.AverageLoss)
	})

	t.Run("EmptyLedger", func(t *testing.T) {
		agg := NewAggregator(&fakeLedger{})

		s, err := agg.Summarize(1)
		require.NoError(t, err)
		assert.Equal(t, 0, s.TotalTrades)
		assert.True(t, s.WinRate.IsZero())
		assert.True(t, s.TotalPnl.IsZero())
		assert.True(t, s.AverageWin.IsZero())
		assert.True(t, s.AverageLoss.IsZero())
	})

	t.Run("OnlyOpenTrades", func(t *testing.T) {
		agg := NewAggregator(&fakeLedger{trades: []models.Trade{openTrade(1), openTrade(2)}})

		s, err := agg.Summarize(1)
		require.NoError(t, err)
		assert.Equal(t, 2, s.TotalTrades)
		assert.Equal(t, 0, s.ClosedTrades)
		assert.True(t, s.WinRate.IsZero())
	})

	t.Run("CountsBySignNotLabel", func(t *testing.T) {
		// A trade labeled win but closed at a loss counts as a loss.
		mislabeled := closedTrade(1, "-5", now)
		mislabeled.Status = models.StatusWin
		agg := NewAggregator(&fakeLedger{trades: []models.Trade{mislabeled}})

		s, err := agg.Summarize(1)
		require.NoError(t, err)
		assert.Equal(t, 0, s.Wins)
		assert.Equal(t, 1, s.Losses)
	})

	t.Run("ZeroPnlCountsAsLoss", func(t *testing.T) {
		agg := NewAggregator(&fakeLedger{trades: []models.Trade{closedTrade(1, "0", now)}})

		s, err := agg.Summarize(1)
		require.NoError(t, err)
		assert.Equal(t, 0, s.Wins)
		assert.Equal(t, 1, s.Losses)
		assert.True(t, s.AverageLoss.IsZero())
	})

	t.Run("LedgerError", func(t *testing.T) {
		boom := errors.New("db gone")
		agg := NewAggregator(&fakeLedger{err: boom})

		_, err := agg.Summarize(1)
		assert.ErrorIs(t, err, boom)
	})
}

func TestEquityCurve(t *testing.T) {
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ledger := &fakeLedger{trades: []models.Trade{
		closedTrade(1, "20", base),
		closedTrade(2, "-30", base.Add(time.Hour)),
		closedTrade(3, "15", base.Add(2*time.Hour)),
	}}
	agg := NewAggregator(ledger)

	curve, err := agg.EquityCurve(1)
	require.NoError(t, err)
	require.Len(t, curve, 3)

	assert.Equal(t, uint(1), curve[0].TradeID)
	assert.True(t, curve[0].Equity.Equal(dec("20")), "equity %s", curve[0].Equity)
	assert.True(t, curve[1].Equity.Equal(dec("-10")), "equity %s", curve[1].Equity)
	assert.True(t, curve[2].Equity.Equal(dec("5")), "equity %s", curve[2].Equity)
	assert.Equal(t, base.Add(2*time.Hour), curve[2].Time)
}

func TestEquityCurveEmpty(t *testing.T) {
	agg := NewAggregator(&fakeLedger{})

	curve, err := agg.EquityCurve(1)
	require.NoError(t, err)
	assert.Empty(t, curve)
}
