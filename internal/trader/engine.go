package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal-trade-bot-go/internal/binance"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/risk"
	"signal-trade-bot-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultCallTimeout = 15 * time.Second

// stopLimitBuffer is the fixed gap between the stop trigger and the stop
// limit price (0.1% below), keeping the stop leg fillable once triggered.
var stopLimitBuffer = decimal.RequireFromString("0.999")

// TradeIntent is one typed request to open a position.
type TradeIntent struct {
	Symbol     string
	Entry      decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// Engine orchestrates the trade-execution pipeline: risk gate, position
// sizing, exchange-constraint rounding, bracket placement and the ledger
// write. It is the only component that mutates exchange state.
type Engine struct {
	logger      *zap.Logger
	store       store.Store
	gate        *risk.Gate
	newClient   binance.ClientFactory
	quoteAsset  string
	callTimeout time.Duration
	now         func() time.Time

	StartTime time.Time

	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex
}

// NewEngine creates a new execution engine. quoteAsset is the asset whose
// free balance backs live orders (e.g. USDT).
func NewEngine(logger *zap.Logger, st store.Store, newClient binance.ClientFactory, quoteAsset string) *Engine {
	return &Engine{
		logger:      logger,
		store:       st,
		gate:        risk.NewGate(st),
		newClient:   newClient,
		quoteAsset:  quoteAsset,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		StartTime:   time.Now(),
		userLocks:   make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all executions for one user.
// Concurrent intents for the same user must not both pass the gate before
// either writes its trade; different users run fully in parallel.
func (e *Engine) userLock(userID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}

// Execute runs one trade intent for the profile's user and returns the
// persisted trade record. The per-user lock spans gate check through ledger
// write.
func (e *Engine) Execute(ctx context.Context, profile *models.AccountProfile, intent TradeIntent) (*models.Trade, error) {
	lock := e.userLock(profile.UserID)
	lock.Lock()
	defer lock.Unlock()

	l := e.logger.With(
		zap.Int64("user_id", profile.UserID),
		zap.String("symbol", intent.Symbol),
		zap.String("mode", profile.Mode),
	)

	decision, err := e.gate.CanOpen(profile, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("risk gate failed: %w", err)
	}
	if !decision.Allowed {
		l.Info("Trade rejected by risk gate", zap.String("reason", decision.Reason))
		return nil, &RiskLimitError{Reason: decision.Reason}
	}

	if profile.Deposit.LessThanOrEqual(decimal.Zero) || profile.RiskPercent.LessThanOrEqual(decimal.Zero) {
		return nil, ErrMissingDepositOrRisk
	}

	volume, err := risk.Size(profile.Deposit, profile.RiskPercent, intent.Entry, intent.StopLoss)
	if err != nil {
		return nil, err
	}

	if profile.Mode == models.ModeAuto {
		return e.openLive(ctx, l, profile, intent, volume)
	}
	return e.openSignal(l, profile, intent, volume)
}

// openSignal records a paper trade; no exchange interaction.
func (e *Engine) openSignal(l *zap.Logger, profile *models.AccountProfile, intent TradeIntent, volume decimal.Decimal) (*models.Trade, error) {
	trade := &models.Trade{
		UserID:     profile.UserID,
		Symbol:     intent.Symbol,
		Entry:      intent.Entry,
		TakeProfit: intent.TakeProfit,
		StopLoss:   intent.StopLoss,
		Volume:     volume,
		Status:     models.StatusSignalOpen,
	}
	if err := e.store.CreateTrade(trade); err != nil {
		return nil, err
	}
	l.Info("Paper signal recorded",
		zap.Uint("trade_id", trade.ID),
		zap.String("volume", volume.String()),
	)
	return trade, nil
}

// openLive places a market entry plus an OCO bracket exit and records the
// resulting position.
func (e *Engine) openLive(ctx context.Context, l *zap.Logger, profile *models.AccountProfile, intent TradeIntent, volume decimal.Decimal) (*models.Trade, error) {
	if !profile.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	client := e.newClient(profile.APIKey, profile.APISecret, profile.UseTestnet)

	filters, err := e.getSymbolFilters(ctx, client, intent.Symbol)
	if err != nil {
		return nil, err
	}
	q := Quantize(filters, volume, intent.Entry, intent.TakeProfit, intent.StopLoss)

	price, err := e.getPrice(ctx, client, intent.Symbol)
	if err != nil {
		return nil, err
	}
	free, err := e.getFreeBalance(ctx, client)
	if err != nil {
		return nil, err
	}

	// Checked before submitting anything so a doomed order never leaves
	// the process.
	cost := q.Quantity.Mul(price)
	if cost.GreaterThan(free) {
		return nil, fmt.Errorf("%w: order cost %s %s exceeds free %s",
			ErrInsufficientBalance, cost.String(), e.quoteAsset, free.String())
	}

	order, err := e.submitMarketBuy(ctx, client, intent.Symbol, q.Quantity)
	if err != nil {
		return nil, err
	}

	// The position is live from here on. The operation must run to
	// completion even if the caller goes away, otherwise the exchange-side
	// position would be left without a protective exit.
	ctx = context.WithoutCancel(ctx)

	avgEntry := averageFillPrice(order.Fills, q.Entry)
	filledQty := q.Quantity
	if executed, perr := decimal.NewFromString(order.ExecutedQuantity); perr == nil && executed.IsPositive() {
		filledQty = executed
	}

	slTrigger := q.StopLoss
	slLimit := FloorToStep(slTrigger.Mul(stopLimitBuffer), filters.TickSize)
	ocoErr := e.submitBracketExit(ctx, client, intent.Symbol, filledQty, q.TakeProfit, slTrigger, slLimit)

	trade := &models.Trade{
		UserID:     profile.UserID,
		Symbol:     intent.Symbol,
		Entry:      avgEntry,
		TakeProfit: q.TakeProfit,
		StopLoss:   q.StopLoss,
		Volume:     filledQty,
		Status:     models.StatusOpen,
	}
	// The ledger records what actually happened on the exchange, so the
	// trade is persisted even when the bracket failed.
	if err := e.store.CreateTrade(trade); err != nil {
		l.Error("Failed to record live trade", zap.Error(err))
		if ocoErr == nil {
			return nil, err
		}
	}

	if ocoErr != nil {
		l.Error("UNPROTECTED POSITION: bracket exit failed after entry fill",
			zap.Uint("trade_id", trade.ID),
			zap.String("quantity", filledQty.String()),
			zap.Bool("unprotected_position", true),
			zap.Error(ocoErr),
		)
		return trade, &UnprotectedPositionError{Trade: trade, Err: ocoErr}
	}

	l.Info("Live trade opened",
		zap.Uint("trade_id", trade.ID),
		zap.String("entry", avgEntry.String()),
		zap.String("quantity", filledQty.String()),
	)
	return trade, nil
}

// Close transitions a trade to win or loss at the given exit price and
// applies the realized pnl to the owner's deposit exactly once. Closing an
// already-closed trade returns the stored record unchanged.
func (e *Engine) Close(tradeID uint, exitPrice decimal.Decimal, outcome string) (*models.Trade, error) {
	if outcome != models.StatusWin && outcome != models.StatusLoss {
		return nil, fmt.Errorf("invalid outcome %q: must be %s or %s", outcome, models.StatusWin, models.StatusLoss)
	}

	trade, err := e.store.GetTrade(tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrTradeNotFound, tradeID)
		}
		return nil, err
	}

	lock := e.userLock(trade.UserID)
	lock.Lock()
	defer lock.Unlock()

	closed, err := e.store.CloseTrade(tradeID, exitPrice, outcome, e.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrTradeNotFound, tradeID)
		}
		return nil, err
	}

	e.logger.Info("Trade closed",
		zap.Uint("trade_id", closed.ID),
		zap.Int64("user_id", closed.UserID),
		zap.String("outcome", closed.Status),
		zap.String("pnl", closed.Pnl.String()),
	)
	return closed, nil
}

// AccountBalances fetches the user's exchange balances. Requires credentials.
func (e *Engine) AccountBalances(ctx context.Context, profile *models.AccountProfile) ([]binance.Balance, error) {
	if !profile.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	client := e.newClient(profile.APIKey, profile.APISecret, profile.UseTestnet)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	balances, err := client.GetAccountBalances(callCtx)
	if err != nil {
		return nil, e.mapExchangeErr(err)
	}
	return balances, nil
}

func (e *Engine) getSymbolFilters(ctx context.Context, client binance.RestClientInterface, symbol string) (*binance.SymbolFilters, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	filters, err := client.GetSymbolFilters(callCtx, symbol)
	if err != nil {
		if errors.Is(err, binance.ErrSymbolNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return nil, e.mapExchangeErr(err)
	}
	return filters, nil
}

func (e *Engine) getPrice(ctx context.Context, client binance.RestClientInterface, symbol string) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	price, err := client.GetPrice(callCtx, symbol)
	if err != nil {
		return decimal.Zero, e.mapExchangeErr(err)
	}
	return price, nil
}

func (e *Engine) getFreeBalance(ctx context.Context, client binance.RestClientInterface) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	free, err := client.GetFreeBalance(callCtx, e.quoteAsset)
	if err != nil {
		return decimal.Zero, e.mapExchangeErr(err)
	}
	return free, nil
}

func (e *Engine) submitMarketBuy(ctx context.Context, client binance.RestClientInterface, symbol string, qty decimal.Decimal) (*binance.CreateOrderResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	order, err := client.CreateMarketOrder(callCtx, symbol, binance.OrderSideBuy, qty)
	if err != nil {
		return nil, e.mapExchangeErr(err)
	}
	return order, nil
}

func (e *Engine) submitBracketExit(ctx context.Context, client binance.RestClientInterface, symbol string, qty, tp, slTrigger, slLimit decimal.Decimal) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	if _, err := client.CreateOCOSell(callCtx, symbol, qty, tp, slTrigger, slLimit); err != nil {
		return e.mapExchangeErr(err)
	}
	return nil
}

// mapExchangeErr translates transport-level failures into the typed
// taxonomy: deadline errors become ErrExchangeTimeout (the order's fate is
// unknown and must be reconciled, not assumed failed), explicit exchange
// rejections become ExchangeRejectedError.
func (e *Engine) mapExchangeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExchangeTimeout, err)
	}
	var apiErr *binance.APIError
	if errors.As(err, &apiErr) {
		return &ExchangeRejectedError{Detail: apiErr.Msg, Err: err}
	}
	return err
}

// averageFillPrice computes the fill-quantity-weighted mean entry price.
// Falls back to the rounded requested entry when the exchange reports no
// usable fills.
func averageFillPrice(fills []binance.Fill, fallback decimal.Decimal) decimal.Decimal {
	totalQty := decimal.Zero
	totalQuote := decimal.Zero
	for _, f := range fills {
		price, err1 := decimal.NewFromString(f.Price)
		qty, err2 := decimal.NewFromString(f.Quantity)
		if err1 != nil || err2 != nil {
			continue
		}
		totalQty = totalQty.Add(qty)
		totalQuote = totalQuote.Add(price.Mul(qty))
	}
	if totalQty.IsZero() {
		return fallback
	}
	return totalQuote.Div(totalQty)
}
