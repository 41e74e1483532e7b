package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Client fetches public market data. No credentials involved.
type Client struct {
	client *resty.Client
	logger *zap.Logger
}

// NewClient creates a market-data client.
func NewClient(testnet bool, logger *zap.Logger) *Client {
	url := baseURL
	if testnet {
		url = testnetBaseURL
	}
	return &Client{
		client: resty.New().SetBaseURL(url),
		logger: logger,
	}
}

// GetKlines fetches the latest limit candles for symbol at the given
// interval (1m, 5m, 15m, 1h, 4h, 1d).
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	// Binance encodes each kline as a mixed-type array.
	var raw [][]interface{}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw).
		Get("/klines")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("klines request for %s failed with status %s: %s", symbol, resp.Status(), resp.String())
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candle, err := parseCandle(k)
		if err != nil {
			c.logger.Warn("Skipping malformed kline", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(k []interface{}) (Candle, error) {
	openTime, ok := k[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("unexpected open time %v", k[0])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return Candle{}, fmt.Errorf("unexpected field %v at index %d", k[i], i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("could not parse field %q: %w", s, err)
		}
		fields[i-1] = v
	}

	return Candle{
		OpenTime: int64(openTime),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}
