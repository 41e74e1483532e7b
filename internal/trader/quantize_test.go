package trader

import (
	"testing"

	"signal-trade-bot-go/internal/binance"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFloorToStep(t *testing.T) {
	cases := []struct {
		name  string
		value string
		step  string
		want  string
	}{
		{"FloorsDown", "1.23456", "0.001", "1.234"},
		{"ExactMultipleUnchanged", "1.234", "0.001", "1.234"},
		{"CoarseStep", "0.029", "0.01", "0.02"},
		{"WholeStep", "12345.67", "1", "12345"},
		{"ZeroValue", "0", "0.001", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FloorToStep(dec(tc.value), dec(tc.step))
			assert.True(t, got.Equal(dec(tc.want)), "got %s, want %s", got, tc.want)
		})
	}

	t.Run("ZeroStepIsIdentity", func(t *testing.T) {
		// An exchange reporting no granularity means no rounding.
		v := dec("1.23456789")
		assert.True(t, FloorToStep(v, decimal.Zero).Equal(v))
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := FloorToStep(dec("1.23456"), dec("0.001"))
		twice := FloorToStep(once, dec("0.001"))
		assert.True(t, once.Equal(twice))
	})

	t.Run("NeverRoundsUp", func(t *testing.T) {
		for _, v := range []string{"0.0299999", "1.999", "0.001", "57.123456"} {
			got := FloorToStep(dec(v), dec("0.01"))
			assert.True(t, got.LessThanOrEqual(dec(v)), "%s floored to %s", v, got)
		}
	})
}

func TestQuantize(t *testing.T) {
	filters := &binance.SymbolFilters{
		LotStep:  dec("0.001"),
		TickSize: dec("0.01"),
	}

	q := Quantize(filters, dec("0.0215"), dec("30000.123"), dec("32000.456"), dec("29000.789"))

	assert.True(t, q.Quantity.Equal(dec("0.021")), "qty %s", q.Quantity)
	assert.True(t, q.Entry.Equal(dec("30000.12")), "entry %s", q.Entry)
	assert.True(t, q.TakeProfit.Equal(dec("32000.45")), "tp %s", q.TakeProfit)
	assert.True(t, q.StopLoss.Equal(dec("29000.78")), "sl %s", q.StopLoss)
}
