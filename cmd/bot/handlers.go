package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/report"
	"signal-trade-bot-go/internal/risk"
	"signal-trade-bot-go/internal/store"
	"signal-trade-bot-go/internal/trader"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const helpText = `Commands:
/mode signal|auto - switch between paper signals and live orders
/set_keys KEY SECRET - store exchange API credentials
/set_deposit AMOUNT - set the capital basis for risk sizing
/set_risk PERCENT - set per-trade risk as % of deposit
/set_limits DAILY% WEEKLY% MAX_TRADES - set drawdown and count limits
/trade SYMBOL ENTRY TP SL - open a trade (paper or live per mode)
/close ID EXIT win|loss - close a tracked trade at EXIT price
/stats - performance summary and equity
/balance - exchange balances (auto mode)`

// handler translates chat commands into typed calls on the execution core
// and renders the structured results back as text.
type handler struct {
	logger  *zap.Logger
	bot     *tgbotapi.BotAPI
	store   store.Store
	engine  *trader.Engine
	reports *report.Aggregator

	mu    sync.Mutex
	chats map[int64]int64 // userID -> chatID, for signal broadcast
}

func newHandler(logger *zap.Logger, bot *tgbotapi.BotAPI, st store.Store, engine *trader.Engine, reports *report.Aggregator) *handler {
	return &handler{
		logger:  logger.Named("telegram"),
		bot:     bot,
		store:   st,
		engine:  engine,
		reports: reports,
		chats:   make(map[int64]int64),
	}
}

// run consumes Telegram updates until the context is cancelled.
func (h *handler) run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := h.bot.GetUpdatesChan(u)

	h.logger.Info("Telegram front end started", zap.String("account", h.bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			reply := h.handleCommand(ctx, update.Message)
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
			if _, err := h.bot.Send(msg); err != nil {
				h.logger.Error("Failed to send reply", zap.Error(err))
			}
		}
	}
}

func (h *handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) string {
	userID := msg.From.ID
	h.rememberChat(userID, msg.Chat.ID)

	profile, err := h.store.GetOrCreateProfile(userID)
	if err != nil {
		h.logger.Error("Failed to load profile", zap.Int64("user_id", userID), zap.Error(err))
		return "internal error, try again later"
	}

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		return helpText
	case "mode":
		return h.setMode(profile, args)
	case "set_keys":
		return h.setKeys(profile, args)
	case "set_deposit":
		return h.setDeposit(profile, args)
	case "set_risk":
		return h.setRisk(profile, args)
	case "set_limits":
		return h.setLimits(profile, args)
	case "trade":
		return h.trade(ctx, profile, args)
	case "close":
		return h.close(args)
	case "stats":
		return h.stats(userID)
	case "balance":
		return h.balance(ctx, profile)
	default:
		return "unknown command, see /help"
	}
}

func (h *handler) rememberChat(userID, chatID int64) {
	h.mu.Lock()
	h.chats[userID] = chatID
	h.mu.Unlock()
}

// broadcastSignals pushes indicator signal texts to every known chat.
func (h *handler) broadcastSignals(symbol string, messages []string) {
	h.mu.Lock()
	chatIDs := make([]int64, 0, len(h.chats))
	for _, id := range h.chats {
		chatIDs = append(chatIDs, id)
	}
	h.mu.Unlock()

	text := symbol + ":\n" + strings.Join(messages, "\n")
	for _, chatID := range chatIDs {
		if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			h.logger.Error("Failed to broadcast signal", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

func (h *handler) setMode(profile *models.AccountProfile, args []string) string {
	if len(args) != 1 || (args[0] != models.ModeSignal && args[0] != models.ModeAuto) {
		return "usage: /mode signal|auto"
	}
	profile.Mode = args[0]
	if err := h.store.SaveProfile(profile); err != nil {
		return "failed to save profile"
	}
	return "mode set to " + profile.Mode
}

func (h *handler) setKeys(profile *models.AccountProfile, args []string) string {
	if len(args) != 2 {
		return "usage: /set_keys KEY SECRET"
	}
	profile.APIKey, profile.APISecret = args[0], args[1]
	if err := h.store.SaveProfile(profile); err != nil {
		return "failed to save profile"
	}
	return "credentials saved"
}

func (h *handler) setDeposit(profile *models.AccountProfile, args []string) string {
	if len(args) != 1 {
		return "usage: /set_deposit AMOUNT"
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil || !amount.IsPositive() {
		return "deposit must be a positive number"
	}
	profile.Deposit = amount
	if err := h.store.SaveProfile(profile); err != nil {
		return "failed to save profile"
	}
	return "deposit set to " + amount.String()
}

func (h *handler) setRisk(profile *models.AccountProfile, args []string) string {
	if len(args) != 1 {
		return "usage: /set_risk PERCENT"
	}
	pct, err := decimal.NewFromString(args[0])
	if err != nil || !pct.IsPositive() {
		return "risk percent must be a positive number"
	}
	profile.RiskPercent = pct
	if err := h.store.SaveProfile(profile); err != nil {
		return "failed to save profile"
	}
	return "risk set to " + pct.String() + "% per trade"
}

func (h *handler) setLimits(profile *models.AccountProfile, args []string) string {
	if len(args) != 3 {
		return "usage: /set_limits DAILY% WEEKLY% MAX_TRADES"
	}
	daily, err1 := decimal.NewFromString(args[0])
	weekly, err2 := decimal.NewFromString(args[1])
	maxTrades, err3 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || err3 != nil || maxTrades < 0 {
		return "limits must be numbers, e.g. /set_limits 5 15 20"
	}
	profile.LimitDailyPercent = daily
	profile.LimitWeeklyPercent = weekly
	profile.LimitMaxTradesPerDay = maxTrades
	if err := h.store.SaveProfile(profile); err != nil {
		return "failed to save profile"
	}
	return fmt.Sprintf("limits set: daily %s%%, weekly %s%%, max %d trades/day",
		daily.String(), weekly.String(), maxTrades)
}

func (h *handler) trade(ctx context.Context, profile *models.AccountProfile, args []string) string {
	if len(args) != 4 {
		return "usage: /trade SYMBOL ENTRY TP SL"
	}
	entry, err1 := decimal.NewFromString(args[1])
	tp, err2 := decimal.NewFromString(args[2])
	sl, err3 := decimal.NewFromString(args[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return "prices must be numbers, e.g. /trade BTCUSDT 30000 32000 29000"
	}

	intent := trader.TradeIntent{
		Symbol:     strings.ToUpper(args[0]),
		Entry:      entry,
		TakeProfit: tp,
		StopLoss:   sl,
	}
	trade, err := h.engine.Execute(ctx, profile, intent)
	if err != nil {
		return h.renderTradeError(err)
	}

	kind := "signal recorded"
	if trade.Status == models.StatusOpen {
		kind = "live order placed"
	}
	return fmt.Sprintf("%s: #%d %s entry %s tp %s sl %s volume %s",
		kind, trade.ID, trade.Symbol,
		trade.Entry.String(), trade.TakeProfit.String(), trade.StopLoss.String(),
		trade.Volume.String())
}

func (h *handler) close(args []string) string {
	if len(args) != 3 {
		return "usage: /close ID EXIT win|loss"
	}
	id, err1 := strconv.ParseUint(args[0], 10, 64)
	exit, err2 := decimal.NewFromString(args[1])
	if err1 != nil || err2 != nil {
		return "usage: /close ID EXIT win|loss"
	}

	trade, err := h.engine.Close(uint(id), exit, args[2])
	if err != nil {
		if errors.Is(err, trader.ErrTradeNotFound) {
			return fmt.Sprintf("trade %d not found", id)
		}
		return err.Error()
	}
	return fmt.Sprintf("trade #%d closed as %s, pnl %s", trade.ID, trade.Status, trade.Pnl.StringFixed(2))
}

func (h *handler) stats(userID int64) string {
	summary, err := h.reports.Summarize(userID)
	if err != nil {
		h.logger.Error("Failed to summarize trades", zap.Int64("user_id", userID), zap.Error(err))
		return "internal error, try again later"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "trades: %d (%d closed)\n", summary.TotalTrades, summary.ClosedTrades)
	fmt.Fprintf(&b, "wins/losses: %d/%d, win rate %s%%\n", summary.Wins, summary.Losses, summary.WinRate.StringFixed(1))
	fmt.Fprintf(&b, "total pnl: %s\n", summary.TotalPnl.StringFixed(2))
	fmt.Fprintf(&b, "avg win: %s, avg loss: %s", summary.AverageWin.StringFixed(2), summary.AverageLoss.StringFixed(2))

	curve, err := h.reports.EquityCurve(userID)
	if err == nil && len(curve) > 0 {
		fmt.Fprintf(&b, "\nequity: %s", curve[len(curve)-1].Equity.StringFixed(2))
	}
	return b.String()
}

func (h *handler) balance(ctx context.Context, profile *models.AccountProfile) string {
	balances, err := h.engine.AccountBalances(ctx, profile)
	if err != nil {
		if errors.Is(err, trader.ErrMissingCredentials) {
			return "set API credentials first with /set_keys"
		}
		return h.renderTradeError(err)
	}

	var b strings.Builder
	b.WriteString("balances:")
	for _, bal := range balances {
		if bal.Free == "0.00000000" && bal.Locked == "0.00000000" {
			continue
		}
		fmt.Fprintf(&b, "\n%s: free %s locked %s", bal.Asset, bal.Free, bal.Locked)
	}
	return b.String()
}

// renderTradeError maps the typed error taxonomy onto user-facing text.
func (h *handler) renderTradeError(err error) string {
	var riskErr *trader.RiskLimitError
	var rejected *trader.ExchangeRejectedError
	var unprotected *trader.UnprotectedPositionError

	switch {
	// Checked first: it wraps the underlying exchange error, and the
	// warning must win over the generic rendering of the cause.
	case errors.As(err, &unprotected):
		return fmt.Sprintf("WARNING: position #%d is OPEN WITHOUT a protective exit, place one manually now", unprotected.Trade.ID)
	case errors.As(err, &riskErr):
		return riskErr.Error()
	case errors.Is(err, risk.ErrInvalidStop):
		return "stop-loss must differ from entry"
	case errors.Is(err, trader.ErrMissingDepositOrRisk):
		return "set /set_deposit and /set_risk first"
	case errors.Is(err, trader.ErrMissingCredentials):
		return "auto mode needs API credentials, use /set_keys"
	case errors.Is(err, trader.ErrUnknownSymbol):
		return "symbol is not listed on the exchange"
	case errors.Is(err, trader.ErrInsufficientBalance):
		return "insufficient free balance for this order"
	case errors.Is(err, trader.ErrExchangeTimeout):
		return "exchange timed out, order state unknown - check open orders before retrying"
	case errors.As(err, &rejected):
		return "exchange rejected the order: " + rejected.Detail
	default:
		h.logger.Error("Unhandled trade error", zap.Error(err))
		return "trade failed: " + err.Error()
	}
}
