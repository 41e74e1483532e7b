package indicators

// SMA returns the simple moving average of the last period values.
// ok is false when the input is shorter than the period.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// RSI returns the relative strength index of the final value using Wilder
// smoothing over the whole series. ok is false when the input is shorter
// than period+1.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	deltas := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		deltas[i-1] = values[i] - values[i-1]
	}

	// Seed averages from the first period of deltas.
	var up, down float64
	for _, d := range deltas[:period] {
		if d >= 0 {
			up += d
		} else {
			down -= d
		}
	}
	up /= float64(period)
	down /= float64(period)

	rsi := 100 - 100/(1+rs(up, down))
	for i := period; i < len(values); i++ {
		delta := deltas[i-1]
		upval, downval := 0.0, 0.0
		if delta > 0 {
			upval = delta
		} else {
			downval = -delta
		}

		up = (up*float64(period-1) + upval) / float64(period)
		down = (down*float64(period-1) + downval) / float64(period)
		rsi = 100 - 100/(1+rs(up, down))
	}
	return rsi, true
}

func rs(up, down float64) float64 {
	if down == 0 {
		return 0
	}
	return up / down
}
