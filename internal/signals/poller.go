package signals

import (
	"context"
	"fmt"
	"time"

	"signal-trade-bot-go/internal/indicators"
	"signal-trade-bot-go/internal/market"

	"go.uber.org/zap"
)

// Indicator windows, matching the classic SMA-crossover / RSI setup.
const (
	smaFastPeriod = 7
	smaSlowPeriod = 25
	rsiPeriod     = 14

	rsiOversold   = 30
	rsiOverbought = 70
)

// CandleSource supplies OHLCV history for a symbol.
type CandleSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// NotifyFunc receives the textual signal descriptions for one symbol.
type NotifyFunc func(symbol string, messages []string)

// Poller periodically evaluates indicator signals for a set of symbols and
// pushes any findings through the notify callback. It never touches the
// execution core.
type Poller struct {
	logger      *zap.Logger
	source      CandleSource
	symbols     []string
	interval    string
	candleLimit int
	every       time.Duration
	notify      NotifyFunc
}

// NewPoller creates a poller checking each symbol every `every` interval.
func NewPoller(logger *zap.Logger, source CandleSource, symbols []string, interval string, candleLimit int, every time.Duration, notify NotifyFunc) *Poller {
	return &Poller{
		logger:      logger.Named("signals"),
		source:      source,
		symbols:     symbols,
		interval:    interval,
		candleLimit: candleLimit,
		every:       every,
		notify:      notify,
	}
}

// Run starts the polling loop and blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	p.logger.Info("Starting signal poller",
		zap.Strings("symbols", p.symbols),
		zap.String("interval", p.interval),
		zap.Duration("every", p.every),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping signal poller...")
			return
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

// scan evaluates every configured symbol once.
func (p *Poller) scan(ctx context.Context) {
	for _, symbol := range p.symbols {
		candles, err := p.source.GetKlines(ctx, symbol, p.interval, p.candleLimit)
		if err != nil {
			p.logger.Error("Failed to fetch candles", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		messages := Evaluate(candles)
		if len(messages) == 0 {
			continue
		}
		p.logger.Info("Signals detected", zap.String("symbol", symbol), zap.Strings("signals", messages))
		if p.notify != nil {
			p.notify(symbol, messages)
		}
	}
}

// Evaluate derives textual signal descriptions from candle history:
// SMA(7)/SMA(25) trend direction and RSI(14) against the 30/70 thresholds.
func Evaluate(candles []market.Candle) []string {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var messages []string

	smaFast, fastOK := indicators.SMA(closes, smaFastPeriod)
	smaSlow, slowOK := indicators.SMA(closes, smaSlowPeriod)
	if fastOK && slowOK {
		if smaFast > smaSlow {
			messages = append(messages, "SMA: trend up (possible buy)")
		} else if smaFast < smaSlow {
			messages = append(messages, "SMA: trend down (possible sell)")
		}
	}

	if rsi, ok := indicators.RSI(closes, rsiPeriod); ok {
		switch {
		case rsi < rsiOversold:
			messages = append(messages, fmt.Sprintf("RSI %.1f below %d: oversold (possible bounce)", rsi, rsiOversold))
		case rsi > rsiOverbought:
			messages = append(messages, fmt.Sprintf("RSI %.1f above %d: overbought (possible drop)", rsi, rsiOverbought))
		}
	}

	return messages
}
