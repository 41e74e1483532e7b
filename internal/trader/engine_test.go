package trader

import (
	"context"
	"testing"
	"time"

	"signal-trade-bot-go/internal/binance"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/risk"
	"signal-trade-bot-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockRestClient is a mock implementation of the Binance client interface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRestClient) GetSymbolFilters(ctx context.Context, symbol string) (*binance.SymbolFilters, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.SymbolFilters), args.Error(1)
}

func (m *MockRestClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRestClient) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRestClient) GetAccountBalances(ctx context.Context) ([]binance.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Balance), args.Error(1)
}

func (m *MockRestClient) CreateMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*binance.CreateOrderResponse, error) {
	args := m.Called(ctx, symbol, side, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.CreateOrderResponse), args.Error(1)
}

func (m *MockRestClient) CreateOCOSell(ctx context.Context, symbol string, quantity, tpPrice, slTrigger, slLimit decimal.Decimal) (*binance.OCOOrderResponse, error) {
	args := m.Called(ctx, symbol, quantity, tpPrice, slTrigger, slLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.OCOOrderResponse), args.Error(1)
}

func (m *MockRestClient) CancelAllOrders(ctx context.Context, symbol string) error {
	args := m.Called(ctx, symbol)
	return args.Error(0)
}

// decEq matches a decimal argument by value rather than representation.
func decEq(s string) interface{} {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

// setupEngine builds an engine over an isolated in-memory database and a
// mock exchange client.
func setupEngine(t *testing.T) (*Engine, *MockRestClient, store.Store) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AccountProfile{}, &models.Trade{}))

	st := store.NewGormStore(db, store.ProfileDefaults{
		UseTestnet:           true,
		LimitDailyPercent:    dec("5"),
		LimitWeeklyPercent:   dec("15"),
		LimitMaxTradesPerDay: 20,
	})

	mockClient := new(MockRestClient)
	factory := func(apiKey, secretKey string, testnet bool) binance.RestClientInterface {
		return mockClient
	}

	return NewEngine(zap.NewNop(), st, factory, "USDT"), mockClient, st
}

func fundedProfile(t *testing.T, st store.Store, mode string) *models.AccountProfile {
	profile, err := st.GetOrCreateProfile(42)
	require.NoError(t, err)
	profile.Mode = mode
	profile.Deposit = dec("1000")
	profile.RiskPercent = dec("2")
	if mode == models.ModeAuto {
		profile.APIKey = "key"
		profile.APISecret = "secret"
	}
	require.NoError(t, st.SaveProfile(profile))
	return profile
}

func btcIntent() TradeIntent {
	return TradeIntent{
		Symbol:     "BTCUSDT",
		Entry:      dec("30000"),
		TakeProfit: dec("32000"),
		StopLoss:   dec("29000"),
	}
}

func TestExecute_SignalMode(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeSignal)

	trade, err := e.Execute(context.Background(), profile, btcIntent())

	assert.NoError(t, err)
	assert.Equal(t, models.StatusSignalOpen, trade.Status)
	assert.True(t, trade.Volume.Equal(dec("0.02")), "volume %s", trade.Volume)
	assert.Nil(t, trade.ClosedAt)
	// Paper mode never touches the exchange.
	mockClient.AssertNotCalled(t, "CreateMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stored, err := st.GetTrade(trade.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSignalOpen, stored.Status)
}

func TestExecute_RiskLimitRejected(t *testing.T) {
	e, _, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeSignal)

	// A realized -60 today on a 1000 deposit is -6%, past the 5% limit.
	now := time.Now().UTC()
	require.NoError(t, st.CreateTrade(&models.Trade{
		UserID:   profile.UserID,
		Symbol:   "BTCUSDT",
		Entry:    dec("30000"),
		Volume:   dec("0.06"),
		Status:   models.StatusLoss,
		Pnl:      dec("-60"),
		ClosedAt: &now,
	}))

	_, err := e.Execute(context.Background(), profile, btcIntent())

	var riskErr *RiskLimitError
	require.ErrorAs(t, err, &riskErr)
	assert.Contains(t, riskErr.Reason, "daily")

	// The rejected intent must leave no trace in the ledger.
	trades, err := st.ListTrades(profile.UserID)
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestExecute_MissingDepositOrRisk(t *testing.T) {
	e, _, st := setupEngine(t)

	t.Run("NoDeposit", func(t *testing.T) {
		profile, err := st.GetOrCreateProfile(7)
		require.NoError(t, err)
		profile.RiskPercent = dec("2")
		require.NoError(t, st.SaveProfile(profile))

		_, err = e.Execute(context.Background(), profile, btcIntent())
		assert.ErrorIs(t, err, ErrMissingDepositOrRisk)
	})

	t.Run("NoRisk", func(t *testing.T) {
		profile, err := st.GetOrCreateProfile(8)
		require.NoError(t, err)
		profile.Deposit = dec("1000")
		require.NoError(t, st.SaveProfile(profile))

		_, err = e.Execute(context.Background(), profile, btcIntent())
		assert.ErrorIs(t, err, ErrMissingDepositOrRisk)
	})
}

func TestExecute_InvalidStop(t *testing.T) {
	e, _, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeSignal)

	intent := btcIntent()
	intent.StopLoss = intent.Entry

	_, err := e.Execute(context.Background(), profile, intent)

	assert.ErrorIs(t, err, risk.ErrInvalidStop)
	trades, lerr := st.ListTrades(profile.UserID)
	assert.NoError(t, lerr)
	assert.Empty(t, trades)
}

func TestExecute_AutoMissingCredentials(t *testing.T) {
	e, _, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)
	profile.APIKey, profile.APISecret = "", ""
	require.NoError(t, st.SaveProfile(profile))

	_, err := e.Execute(context.Background(), profile, btcIntent())

	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestExecute_AutoHappyPath(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(dec("30000"), nil)
	mockClient.On("GetFreeBalance", mock.Anything, "USDT").Return(dec("1000"), nil)
	// Two partial fills straddling the requested entry, averaging 30000.
	mockClient.On("CreateMarketOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, decEq("0.02")).
		Return(&binance.CreateOrderResponse{
			ExecutedQuantity: "0.02",
			Fills: []binance.Fill{
				{Price: "30010", Quantity: "0.01"},
				{Price: "29990", Quantity: "0.01"},
			},
		}, nil)
	// Stop limit is 0.1% below the trigger, floored to the tick.
	mockClient.On("CreateOCOSell", mock.Anything, "BTCUSDT",
		decEq("0.02"), decEq("32000"), decEq("29000"), decEq("28971")).
		Return(&binance.OCOOrderResponse{OrderListID: 1}, nil)

	trade, err := e.Execute(context.Background(), profile, btcIntent())

	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, trade.Status)
	assert.True(t, trade.Entry.Equal(dec("30000")), "entry %s", trade.Entry)
	assert.True(t, trade.Volume.Equal(dec("0.02")), "volume %s", trade.Volume)
	mockClient.AssertExpectations(t)

	stored, err := st.GetTrade(trade.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status)
}

func TestExecute_InsufficientBalance(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(dec("30000"), nil)
	// Order cost is 0.02 * 30000 = 600, only 500 free.
	mockClient.On("GetFreeBalance", mock.Anything, "USDT").Return(dec("500"), nil)

	_, err := e.Execute(context.Background(), profile, btcIntent())

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	// The doomed order must never be submitted.
	mockClient.AssertNotCalled(t, "CreateMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	trades, lerr := st.ListTrades(profile.UserID)
	assert.NoError(t, lerr)
	assert.Empty(t, trades)
}

func TestExecute_UnknownSymbol(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "NOPEUSDT").
		Return(nil, binance.ErrSymbolNotFound)

	intent := btcIntent()
	intent.Symbol = "NOPEUSDT"
	_, err := e.Execute(context.Background(), profile, intent)

	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestExecute_ExchangeTimeout(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").
		Return(decimal.Zero, context.DeadlineExceeded)

	_, err := e.Execute(context.Background(), profile, btcIntent())

	assert.ErrorIs(t, err, ErrExchangeTimeout)
}

func TestExecute_ExchangeRejected(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(dec("30000"), nil)
	mockClient.On("GetFreeBalance", mock.Anything, "USDT").Return(dec("1000"), nil)
	mockClient.On("CreateMarketOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, decEq("0.02")).
		Return(nil, &binance.APIError{StatusCode: 400, Code: -2010, Msg: "Account has insufficient balance"})

	_, err := e.Execute(context.Background(), profile, btcIntent())

	var rejected *ExchangeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Detail, "insufficient")
	// A rejected entry leaves nothing on the exchange or in the ledger.
	trades, lerr := st.ListTrades(profile.UserID)
	assert.NoError(t, lerr)
	assert.Empty(t, trades)
}

func TestExecute_UnprotectedPosition(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(dec("30000"), nil)
	mockClient.On("GetFreeBalance", mock.Anything, "USDT").Return(dec("1000"), nil)
	mockClient.On("CreateMarketOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, decEq("0.02")).
		Return(&binance.CreateOrderResponse{ExecutedQuantity: "0.02"}, nil)
	mockClient.On("CreateOCOSell", mock.Anything, "BTCUSDT",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &binance.APIError{StatusCode: 400, Code: -1013, Msg: "Filter failure: PRICE_FILTER"})

	trade, err := e.Execute(context.Background(), profile, btcIntent())

	// The entry filled, so the failure is fatal but the trade is recorded.
	var unprotected *UnprotectedPositionError
	require.ErrorAs(t, err, &unprotected)
	require.NotNil(t, trade)
	assert.Equal(t, trade.ID, unprotected.Trade.ID)

	stored, serr := st.GetTrade(trade.ID)
	assert.NoError(t, serr)
	assert.Equal(t, models.StatusOpen, stored.Status)
}

func TestExecute_NoFillsFallsBackToRoundedEntry(t *testing.T) {
	e, mockClient, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeAuto)

	mockClient.On("GetSymbolFilters", mock.Anything, "BTCUSDT").
		Return(&binance.SymbolFilters{LotStep: dec("0.001"), TickSize: dec("0.01")}, nil)
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(dec("30000"), nil)
	mockClient.On("GetFreeBalance", mock.Anything, "USDT").Return(dec("1000"), nil)
	mockClient.On("CreateMarketOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, decEq("0.02")).
		Return(&binance.CreateOrderResponse{}, nil)
	mockClient.On("CreateOCOSell", mock.Anything, "BTCUSDT",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&binance.OCOOrderResponse{}, nil)

	trade, err := e.Execute(context.Background(), profile, btcIntent())

	require.NoError(t, err)
	assert.True(t, trade.Entry.Equal(dec("30000")), "entry %s", trade.Entry)
	assert.True(t, trade.Volume.Equal(dec("0.02")), "volume %s", trade.Volume)
}

func TestClose(t *testing.T) {
	t.Run("AppliesPnlToDepositOnce", func(t *testing.T) {
		e, _, st := setupEngine(t)
		profile := fundedProfile(t, st, models.ModeSignal)

		opened, err := e.Execute(context.Background(), profile, btcIntent())
		require.NoError(t, err)

		// entry=30000, volume=0.02, exit=31000 -> pnl=20
		closed, err := e.Close(opened.ID, dec("31000"), models.StatusWin)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWin, closed.Status)
		assert.True(t, closed.Pnl.Equal(dec("20")), "pnl %s", closed.Pnl)
		require.NotNil(t, closed.ClosedAt)
		assert.True(t, closed.ExitPrice.Valid)

		refreshed, err := st.GetOrCreateProfile(profile.UserID)
		require.NoError(t, err)
		assert.True(t, refreshed.Deposit.Equal(dec("1020")), "deposit %s", refreshed.Deposit)

		// Retried close must not double-apply the deposit delta.
		again, err := e.Close(opened.ID, dec("31000"), models.StatusWin)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWin, again.Status)

		refreshed, err = st.GetOrCreateProfile(profile.UserID)
		require.NoError(t, err)
		assert.True(t, refreshed.Deposit.Equal(dec("1020")), "deposit %s", refreshed.Deposit)
	})

	t.Run("NotFound", func(t *testing.T) {
		e, _, _ := setupEngine(t)

		_, err := e.Close(999, dec("31000"), models.StatusWin)

		assert.ErrorIs(t, err, ErrTradeNotFound)
	})

	t.Run("InvalidOutcome", func(t *testing.T) {
		e, _, _ := setupEngine(t)

		_, err := e.Close(1, dec("31000"), "breakeven")

		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTradeNotFound)
	})

	t.Run("OutcomeLabelNotReconciledWithPnlSign", func(t *testing.T) {
		// The caller-supplied label is stored as given, even when it
		// disagrees with the pnl sign.
		e, _, st := setupEngine(t)
		profile := fundedProfile(t, st, models.ModeSignal)

		opened, err := e.Execute(context.Background(), profile, btcIntent())
		require.NoError(t, err)

		closed, err := e.Close(opened.ID, dec("29500"), models.StatusWin)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWin, closed.Status)
		assert.True(t, closed.Pnl.IsNegative(), "pnl %s", closed.Pnl)
	})
}

func TestUserLockIsPerUser(t *testing.T) {
	e, _, _ := setupEngine(t)

	sameA := e.userLock(1)
	sameB := e.userLock(1)
	other := e.userLock(2)

	assert.Same(t, sameA, sameB)
	assert.NotSame(t, sameA, other)
}

func TestExecute_SerializesSameUser(t *testing.T) {
	// Two concurrent intents for one user must not both pass the gate
	// before either writes: with max trades 1, exactly one succeeds.
	e, _, st := setupEngine(t)
	profile := fundedProfile(t, st, models.ModeSignal)
	profile.LimitMaxTradesPerDay = 1
	require.NoError(t, st.SaveProfile(profile))

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.Execute(context.Background(), profile, btcIntent())
			results <- err
		}()
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			var riskErr *RiskLimitError
			assert.ErrorAs(t, err, &riskErr)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	trades, err := st.ListTrades(profile.UserID)
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
}
