package trader

import (
	"errors"
	"fmt"

	"signal-trade-bot-go/internal/models"
)

// Sentinel errors for the execution engine. Callers match with errors.Is
// instead of inspecting message text.
var (
	ErrMissingDepositOrRisk = errors.New("deposit and risk percent must be configured before trading")
	ErrMissingCredentials   = errors.New("exchange api credentials are not configured")
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrInsufficientBalance  = errors.New("insufficient free balance")
	ErrExchangeTimeout      = errors.New("exchange request timed out, order fate unknown")
	ErrTradeNotFound        = errors.New("trade not found")
)

// RiskLimitError reports that the risk gate rejected a new trade.
type RiskLimitError struct {
	Reason string
}

func (e *RiskLimitError) Error() string {
	return "risk limit exceeded: " + e.Reason
}

// ExchangeRejectedError is an explicit rejection from the exchange, as
// opposed to a timeout where the order's fate is unknown.
type ExchangeRejectedError struct {
	Detail string
	Err    error
}

func (e *ExchangeRejectedError) Error() string {
	return fmt.Sprintf("exchange rejected order: %s", e.Detail)
}

func (e *ExchangeRejectedError) Unwrap() error { return e.Err }

// UnprotectedPositionError is the fatal partial-failure state: the market
// entry filled but the bracket exit could not be placed, so a live position
// sits on the exchange with no protective exit. The trade is still recorded;
// Trade points at the persisted record.
type UnprotectedPositionError struct {
	Trade *models.Trade
	Err   error
}

func (e *UnprotectedPositionError) Error() string {
	return fmt.Sprintf("position open without protective exit (trade %d): %v", e.Trade.ID, e.Err)
}

func (e *UnprotectedPositionError) Unwrap() error { return e.Err }
