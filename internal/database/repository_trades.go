package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trade-coordinator/internal/trade"
)

// TradeStore is the PostgreSQL-backed trade.Store.
type TradeStore struct {
	db *DB
}

// NewTradeStore creates a trade store over the shared pool.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

const tradeColumns = `id, bot_id, user_id, symbol, direction, order_type, quantity,
	entry_price, exit_price, current_price, stop_loss, take_profit, status,
	profit_loss, profit_loss_percent, fees, risk_reward_ratio, exit_reason,
	broker_order_id, broker_position_id, created_at, opened_at, closed_at, duration_seconds`

// SaveTrade upserts the full trade row. The manager serializes writes per
// trade, so last-write-wins on the row is safe.
func (s *TradeStore) SaveTrade(ctx context.Context, t *trade.Trade) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			exit_price = EXCLUDED.exit_price,
			current_price = EXCLUDED.current_price,
			status = EXCLUDED.status,
			profit_loss = EXCLUDED.profit_loss,
			profit_loss_percent = EXCLUDED.profit_loss_percent,
			fees = EXCLUDED.fees,
			risk_reward_ratio = EXCLUDED.risk_reward_ratio,
			exit_reason = EXCLUDED.exit_reason,
			broker_order_id = EXCLUDED.broker_order_id,
			broker_position_id = EXCLUDED.broker_position_id,
			entry_price = EXCLUDED.entry_price,
			opened_at = EXCLUDED.opened_at,
			closed_at = EXCLUDED.closed_at,
			duration_seconds = EXCLUDED.duration_seconds`

	_, err := s.db.Pool.Exec(ctx, query,
		t.ID, t.BotID, nullStr(t.UserID), t.Symbol, string(t.Direction), t.OrderType, t.Quantity,
		t.EntryPrice, nullFloat(t.ExitPrice), nullFloat(t.CurrentPrice), nullFloat(t.StopLoss),
		nullFloat(t.TakeProfit), string(t.Status),
		t.ProfitLoss, t.ProfitLossPercent, t.Fees, nullFloat(t.RiskRewardRatio), nullStr(t.ExitReason),
		nullStr(t.BrokerOrderID), nullStr(t.BrokerPositionID), t.CreatedAt, t.OpenedAt, t.ClosedAt,
		nullFloat(t.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrade returns one trade by id.
func (s *TradeStore) GetTrade(ctx context.Context, id string) (*trade.Trade, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trade.ErrTradeNotFound
	}
	return t, err
}

// OpenTrades returns the bot's OPEN trades, oldest first.
func (s *TradeStore) OpenTrades(ctx context.Context, botID string) ([]*trade.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE bot_id = $1 AND status = $2 ORDER BY created_at ASC`,
		botID, string(trade.StatusOpen))
}

// ClosedTrades returns the bot's CLOSED trades ordered by close time.
func (s *TradeStore) ClosedTrades(ctx context.Context, botID string) ([]*trade.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE bot_id = $1 AND status = $2 ORDER BY closed_at ASC`,
		botID, string(trade.StatusClosed))
}

// History returns the bot's trades newest first.
func (s *TradeStore) History(ctx context.Context, botID string, limit int) ([]*trade.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE bot_id = $1 ORDER BY created_at DESC`
	args := []interface{}{botID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryTrades(ctx, query, args...)
}

func (s *TradeStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*trade.Trade, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []*trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (*trade.Trade, error) {
	var t trade.Trade
	var userID, exitReason, brokerOrderID, brokerPositionID *string
	var exitPrice, currentPrice, stopLoss, takeProfit, riskReward, duration *float64
	var direction, status string

	err := row.Scan(
		&t.ID, &t.BotID, &userID, &t.Symbol, &direction, &t.OrderType, &t.Quantity,
		&t.EntryPrice, &exitPrice, &currentPrice, &stopLoss, &takeProfit, &status,
		&t.ProfitLoss, &t.ProfitLossPercent, &t.Fees, &riskReward, &exitReason,
		&brokerOrderID, &brokerPositionID, &t.CreatedAt, &t.OpenedAt, &t.ClosedAt, &duration,
	)
	if err != nil {
		return nil, err
	}

	t.Direction = trade.Direction(direction)
	t.Status = trade.Status(status)
	t.UserID = strVal(userID)
	t.ExitReason = strVal(exitReason)
	t.BrokerOrderID = strVal(brokerOrderID)
	t.BrokerPositionID = strVal(brokerPositionID)
	t.ExitPrice = floatVal(exitPrice)
	t.CurrentPrice = floatVal(currentPrice)
	t.StopLoss = floatVal(stopLoss)
	t.TakeProfit = floatVal(takeProfit)
	t.RiskRewardRatio = floatVal(riskReward)
	t.Duration = floatVal(duration)
	return &t, nil
}

// SavePosition upserts the mirrored position row.
func (s *TradeStore) SavePosition(ctx context.Context, p *trade.Position) error {
	query := `
		INSERT INTO positions (trade_id, bot_id, user_id, symbol, direction, quantity,
			entry_price, current_price, profit_loss, open, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (trade_id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			profit_loss = EXCLUDED.profit_loss,
			open = EXCLUDED.open,
			closed_at = EXCLUDED.closed_at`

	_, err := s.db.Pool.Exec(ctx, query,
		p.TradeID, p.BotID, nullStr(p.UserID), p.Symbol, string(p.Direction), p.Quantity,
		p.EntryPrice, p.CurrentPrice, p.ProfitLoss, p.Open, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save position for trade %s: %w", p.TradeID, err)
	}
	return nil
}

// GetPosition returns the position mirroring one trade.
func (s *TradeStore) GetPosition(ctx context.Context, tradeID string) (*trade.Position, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT trade_id, bot_id, user_id, symbol, direction, quantity,
			entry_price, current_price, profit_loss, open, opened_at, closed_at
		FROM positions WHERE trade_id = $1`, tradeID)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trade.ErrTradeNotFound
	}
	return p, err
}

// OpenPositions returns the bot's open positions, oldest first.
func (s *TradeStore) OpenPositions(ctx context.Context, botID string) ([]*trade.Position, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT trade_id, bot_id, user_id, symbol, direction, quantity,
			entry_price, current_price, profit_loss, open, opened_at, closed_at
		FROM positions WHERE bot_id = $1 AND open = TRUE ORDER BY opened_at ASC`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []*trade.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (*trade.Position, error) {
	var p trade.Position
	var userID *string
	var direction string

	err := row.Scan(&p.TradeID, &p.BotID, &userID, &p.Symbol, &direction, &p.Quantity,
		&p.EntryPrice, &p.CurrentPrice, &p.ProfitLoss, &p.Open, &p.OpenedAt, &p.ClosedAt)
	if err != nil {
		return nil, err
	}
	p.Direction = trade.Direction(direction)
	p.UserID = strVal(userID)
	return &p, nil
}

// GetDailySummary returns the (bot, day) summary, or nil when absent.
func (s *TradeStore) GetDailySummary(ctx context.Context, botID string, day time.Time) (*trade.DailyPnLSummary, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT bot_id, summary_date, daily_pnl, cumulative_pnl, trades_opened, trades_closed,
			winning_trades, losing_trades, largest_win, largest_loss, drawdown, updated_at
		FROM daily_pnl_summaries WHERE bot_id = $1 AND summary_date = $2`,
		botID, day.UTC().Format("2006-01-02"))

	var sum trade.DailyPnLSummary
	err := row.Scan(&sum.BotID, &sum.SummaryDate, &sum.DailyPnL, &sum.CumulativePnL,
		&sum.TradesOpened, &sum.TradesClosed, &sum.WinningTrades, &sum.LosingTrades,
		&sum.LargestWin, &sum.LargestLoss, &sum.Drawdown, &sum.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily summary: %w", err)
	}
	return &sum, nil
}

// SaveDailySummary upserts the (bot, day) row.
func (s *TradeStore) SaveDailySummary(ctx context.Context, sum *trade.DailyPnLSummary) error {
	query := `
		INSERT INTO daily_pnl_summaries (bot_id, summary_date, daily_pnl, cumulative_pnl,
			trades_opened, trades_closed, winning_trades, losing_trades,
			largest_win, largest_loss, drawdown, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (bot_id, summary_date) DO UPDATE SET
			daily_pnl = EXCLUDED.daily_pnl,
			cumulative_pnl = EXCLUDED.cumulative_pnl,
			trades_opened = EXCLUDED.trades_opened,
			trades_closed = EXCLUDED.trades_closed,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			largest_win = EXCLUDED.largest_win,
			largest_loss = EXCLUDED.largest_loss,
			drawdown = EXCLUDED.drawdown,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Pool.Exec(ctx, query,
		sum.BotID, sum.SummaryDate.UTC().Format("2006-01-02"), sum.DailyPnL, sum.CumulativePnL,
		sum.TradesOpened, sum.TradesClosed, sum.WinningTrades, sum.LosingTrades,
		sum.LargestWin, sum.LargestLoss, sum.Drawdown, sum.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily summary: %w", err)
	}
	return nil
}

// DailySummaries returns the bot's summaries newest first.
func (s *TradeStore) DailySummaries(ctx context.Context, botID string, limit int) ([]*trade.DailyPnLSummary, error) {
	query := `
		SELECT bot_id, summary_date, daily_pnl, cumulative_pnl, trades_opened, trades_closed,
			winning_trades, losing_trades, largest_win, largest_loss, drawdown, updated_at
		FROM daily_pnl_summaries WHERE bot_id = $1 ORDER BY summary_date DESC`
	args := []interface{}{botID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []*trade.DailyPnLSummary
	for rows.Next() {
		var sum trade.DailyPnLSummary
		if err := rows.Scan(&sum.BotID, &sum.SummaryDate, &sum.DailyPnL, &sum.CumulativePnL,
			&sum.TradesOpened, &sum.TradesClosed, &sum.WinningTrades, &sum.LosingTrades,
			&sum.LargestWin, &sum.LargestLoss, &sum.Drawdown, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func floatVal(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
