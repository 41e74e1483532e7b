package trader

import (
	"signal-trade-bot-go/internal/binance"

	"github.com/shopspring/decimal"
)

// FloorToStep snaps value down onto the grid defined by step. Flooring is
// deliberate: a floored quantity never exceeds the risk-computed size or the
// available balance, and flooring is the conservative direction for prices
// too. A zero step means the exchange reports no granularity and the value
// passes through unchanged.
func FloorToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	// Subtracting the remainder avoids division entirely, so there is no
	// precision cutoff that could nudge the result up a step.
	return value.Sub(value.Mod(step))
}

// QuantizedOrder is a trade intent rounded to the exchange's increments.
type QuantizedOrder struct {
	Quantity   decimal.Decimal
	Entry      decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// Quantize floors the raw volume to the lot step and all three price levels
// to the tick size.
func Quantize(filters *binance.SymbolFilters, rawVolume, entry, takeProfit, stopLoss decimal.Decimal) QuantizedOrder {
	return QuantizedOrder{
		Quantity:   FloorToStep(rawVolume, filters.LotStep),
		Entry:      FloorToStep(entry, filters.TickSize),
		TakeProfit: FloorToStep(takeProfit, filters.TickSize),
		StopLoss:   FloorToStep(stopLoss, filters.TickSize),
	}
}
