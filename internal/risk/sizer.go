package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidStop is returned when the stop-loss equals the entry price.
// A zero stop distance yields an unbounded position size and must be
// rejected, not silently guarded.
var ErrInvalidStop = errors.New("stop-loss must differ from entry price")

var hundred = decimal.NewFromInt(100)

// Size converts a deposit and per-trade risk fraction into a raw position
// volume: riskAmount = deposit * riskPercent / 100, volume = riskAmount /
// stopDistance. The result is not rounded to exchange constraints; that
// happens at the order-submission boundary.
func Size(deposit, riskPercent, entry, stopLoss decimal.Decimal) (decimal.Decimal, error) {
	stopDistance := entry.Sub(stopLoss).Abs()
	if stopDistance.IsZero() {
		return decimal.Zero, ErrInvalidStop
	}

	riskAmount := deposit.Mul(riskPercent).Div(hundred)
	return riskAmount.Div(stopDistance), nil
}
