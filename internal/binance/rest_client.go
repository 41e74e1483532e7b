package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"signal-trade-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
)

// ErrSymbolNotFound is returned when the exchange reports no such instrument.
var ErrSymbolNotFound = errors.New("symbol not listed on exchange")

// APIError is an explicit rejection from the exchange (4xx with a Binance
// error payload), as opposed to transport failures or timeouts.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance rejected request: status=%d code=%d msg=%q", e.StatusCode, e.Code, e.Msg)
}

// SymbolFilters carries the exchange-imposed increments for one symbol.
// A zero step means the exchange reports no granularity for that dimension.
type SymbolFilters struct {
	LotStep  decimal.Decimal
	TickSize decimal.Decimal
}

// Balance is one asset row from the account endpoint.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Fill is a single fill reported for a market order.
type Fill struct {
	Price    string `json:"price"`
	Quantity string `json:"qty"`
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Fills               []Fill `json:"fills"`
}

// OCOOrderResponse represents the response from placing an OCO exit pair.
type OCOOrderResponse struct {
	OrderListID       int64  `json:"orderListId"`
	ContingencyType   string `json:"contingencyType"`
	ListStatusType    string `json:"listStatusType"`
	ListOrderStatus   string `json:"listOrderStatus"`
	ListClientOrderID string `json:"listClientOrderId"`
	TransactionTime   int64  `json:"transactionTime"`
	Symbol            string `json:"symbol"`
}

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	CreateMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*CreateOrderResponse, error)
	CreateOCOSell(ctx context.Context, symbol string, quantity, tpPrice, slTrigger, slLimit decimal.Decimal) (*OCOOrderResponse, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// RestClient is a client for the Binance REST API.
// One instance is built per user because it signs with that user's keys.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// ClientFactory builds an exchange client for one user's credentials.
type ClientFactory func(apiKey, secretKey string, testnet bool) RestClientInterface

// NewRestClient creates a new Binance REST API client signing with the given
// key pair. The rate limiter settings come from the shared config.
func NewRestClient(apiKey, secretKey string, testnet bool, cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    apiKey,
		secretKey: secretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedParams appends timestamp, recvWindow and signature to params.
func (c *RestClient) signedParams(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))
	return params
}

func newAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Msg = body.Msg
	}
	return apiErr
}

// doRequest executes a request with rate limiting. Safe reads pass attempts>1
// and get retry with backoff on 429/418/5xx; order submissions must pass
// attempts=1 because a blind resubmit of a non-idempotent call could place
// the same order twice.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request, attempts int) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	req.SetContext(ctx)

	for i := 0; i < attempts; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request aborted: %w", ctx.Err())
			}
			shouldRetry = true // network or other client-side error
		} else {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			} else {
				// Explicit rejection, retrying will not change the answer.
				return nil, newAPIError(resp)
			}
		}

		if !shouldRetry || i == attempts-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
	}
	return nil, newAPIError(resp)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().SetResult(&ServerTimeResponse{})
	resp, err := c.doRequest(ctx, "GET", "/time", req, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	return resp.Result().(*ServerTimeResponse).ServerTime, nil
}

// exchangeInfoResponse is the slice of /exchangeInfo this client needs.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize,omitempty"`
			TickSize   string `json:"tickSize,omitempty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolFilters fetches the LOT_SIZE step and PRICE_FILTER tick for one
// symbol. Returns ErrSymbolNotFound when the exchange does not list it.
func (c *RestClient) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	var info exchangeInfoResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&info)

	_, err := c.doRequest(ctx, "GET", "/exchangeInfo", req, 3)
	if err != nil {
		var apiErr *APIError
		// -1121 is Binance's "Invalid symbol."
		if errors.As(err, &apiErr) && apiErr.Code == -1121 {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	filters := &SymbolFilters{}
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if step, err := decimal.NewFromString(f.StepSize); err == nil {
				filters.LotStep = step
			}
		case "PRICE_FILTER":
			if tick, err := decimal.NewFromString(f.TickSize); err == nil {
				filters.TickSize = tick
			}
		}
	}
	return filters, nil
}

// GetPrice fetches the latest ticker price for one symbol.
func (c *RestClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker)

	_, err := c.doRequest(ctx, "GET", "/ticker/price", req, 3)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// GetAccountBalances fetches all asset balances via the signed account
// endpoint.
func (c *RestClient) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	var account struct {
		Balances []Balance `json:"balances"`
	}

	params := c.signedParams(url.Values{})
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&account)

	_, err := c.doRequest(ctx, "GET", "/account", req, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balances: %w", err)
	}
	return account.Balances, nil
}

// GetFreeBalance returns the free amount of one asset. An asset missing from
// the account response has a zero balance.
func (c *RestClient) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.GetAccountBalances(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	for _, b := range balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse free balance %q for %s: %w", b.Free, asset, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

// CreateMarketOrder places a market order and requests the FULL response so
// individual fills are reported. Executed exactly once, never retried.
func (c *RestClient) CreateMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", quantity.String())
	params.Set("newOrderRespType", "FULL")
	params = c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&CreateOrderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/order", req, 1)
	if err != nil {
		c.logger.Error("Failed to create market order",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("side", side),
		)
		return nil, fmt.Errorf("failed to create market order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Market order placed",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Int64("order_id", result.OrderID),
		zap.String("executed_qty", result.ExecutedQuantity),
	)
	return result, nil
}

// CreateOCOSell places the bracket exit: a take-profit limit leg and a
// stop-loss leg where filling either cancels the other on the exchange side.
// Executed exactly once, never retried.
func (c *RestClient) CreateOCOSell(ctx context.Context, symbol string, quantity, tpPrice, slTrigger, slLimit decimal.Decimal) (*OCOOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", OrderSideSell)
	params.Set("quantity", quantity.String())
	params.Set("price", tpPrice.String())
	params.Set("stopPrice", slTrigger.String())
	params.Set("stopLimitPrice", slLimit.String())
	params.Set("stopLimitTimeInForce", "GTC")
	params = c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&OCOOrderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/order/oco", req, 1)
	if err != nil {
		c.logger.Error("Failed to create OCO exit",
			zap.Error(err),
			zap.String("symbol", symbol),
		)
		return nil, fmt.Errorf("failed to create oco exit: %w", err)
	}

	result := resp.Result().(*OCOOrderResponse)
	c.logger.Info("OCO exit placed",
		zap.String("symbol", symbol),
		zap.Int64("order_list_id", result.OrderListID),
	)
	return result, nil
}

// CancelAllOrders cancels every open order for the symbol.
func (c *RestClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params = c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params)

	if _, err := c.doRequest(ctx, "DELETE", "/openOrders", req, 1); err != nil {
		return fmt.Errorf("failed to cancel open orders for %s: %w", symbol, err)
	}
	return nil
}
