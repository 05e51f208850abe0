package trade

import (
	"errors"
	"fmt"
	"time"
)

// Status is a trade's lifecycle state. Transitions are monotonic:
// PENDING -> OPEN -> CLOSED, or PENDING -> CANCELLED. CLOSED and
// CANCELLED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// Direction of a trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ErrTradeNotFound is returned when a trade id does not exist.
var ErrTradeNotFound = errors.New("trade not found")

// StateError reports an operation attempted outside the trade's expected
// source state. These surface loudly instead of silently no-opping so
// duplicate calls show up in logs and audits.
type StateError struct {
	TradeID string
	Status  Status
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s trade %s in status %s", e.Op, e.TradeID, e.Status)
}

// Trade is the full lifecycle record for one order intent.
type Trade struct {
	ID         string    `json:"id"`
	BotID      string    `json:"bot_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	OrderType  string    `json:"order_type"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price,omitempty"`

	CurrentPrice float64 `json:"current_price,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`

	Status Status `json:"status"`

	// Realized once CLOSED, unrealized (marked at CurrentPrice) while OPEN.
	ProfitLoss        float64 `json:"profit_loss"`
	ProfitLossPercent float64 `json:"profit_loss_percent"`

	Fees            float64 `json:"fees"`
	RiskRewardRatio float64 `json:"risk_reward_ratio,omitempty"`
	ExitReason      string  `json:"exit_reason,omitempty"`

	// Broker references recorded at fill time.
	BrokerOrderID    string `json:"broker_order_id,omitempty"`
	BrokerPositionID string `json:"broker_position_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Duration  float64    `json:"duration_seconds,omitempty"`
}

// Spec is the caller-supplied description of a new trade.
type Spec struct {
	BotID      string    `json:"bot_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	OrderType  string    `json:"order_type"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
}

// Fill carries the broker's execution details for opening a trade.
type Fill struct {
	EntryPrice       float64 `json:"entry_price"`
	BrokerOrderID    string  `json:"broker_order_id,omitempty"`
	BrokerPositionID string  `json:"broker_position_id,omitempty"`
}

// Position is a point-in-time projection of a trade for account views.
// Created on execute, updated on close.
type Position struct {
	TradeID      string     `json:"trade_id"`
	BotID        string     `json:"bot_id"`
	UserID       string     `json:"user_id"`
	Symbol       string     `json:"symbol"`
	Direction    Direction  `json:"direction"`
	Quantity     float64    `json:"quantity"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	ProfitLoss   float64    `json:"profit_loss"`
	Open         bool       `json:"open"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// DailyPnLSummary aggregates one bot's closed trades for one calendar day.
// Updated additively on every close; created lazily per (bot, day).
type DailyPnLSummary struct {
	BotID         string    `json:"bot_id"`
	SummaryDate   time.Time `json:"summary_date"`
	DailyPnL      float64   `json:"daily_pnl"`
	CumulativePnL float64   `json:"cumulative_pnl"`
	TradesOpened  int       `json:"trades_opened"`
	TradesClosed  int       `json:"trades_closed"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	LargestWin    float64   `json:"largest_win"`
	LargestLoss   float64   `json:"largest_loss"`
	Drawdown      float64   `json:"drawdown"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Performance is a bot's rolling realized performance, recomputed on every
// trade close.
type Performance struct {
	BotID       string    `json:"bot_id"`
	TradeCount  int       `json:"trade_count"`
	WinCount    int       `json:"win_count"`
	LossCount   int       `json:"loss_count"`
	WinRate     float64   `json:"win_rate"`
	TotalPnL    float64   `json:"total_pnl"`
	MaxDrawdown float64   `json:"max_drawdown"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// realizedPnL applies the signed P&L formula:
// BUY:  (exit - entry) * quantity - fees
// SELL: (entry - exit) * quantity - fees
func realizedPnL(direction Direction, entry, exit, quantity, fees float64) float64 {
	if direction == DirectionSell {
		return (entry-exit)*quantity - fees
	}
	return (exit-entry)*quantity - fees
}

// pnlPercent expresses pnl against the entry notional. Zero when the
// notional is zero.
func pnlPercent(pnl, entry, quantity float64) float64 {
	notional := entry * quantity
	if notional == 0 {
		return 0
	}
	return pnl / notional * 100
}

// riskRewardRatio is |exit-entry| / |entry-stopLoss|, zero when either
// price is missing.
func riskRewardRatio(entry, exit, stopLoss float64) float64 {
	if exit == 0 || stopLoss == 0 {
		return 0
	}
	risk := entry - stopLoss
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return 0
	}
	reward := exit - entry
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}

// summaryDay truncates a timestamp to its UTC calendar day.
func summaryDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
