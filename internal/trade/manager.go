package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trade-coordinator/internal/events"
)

// Manager owns every trade state transition. All mutations go through it
// so each trade's read-modify-write is atomic and stale price ticks cannot
// clobber a concurrent close.
type Manager struct {
	store  Store
	cache  PerfCache
	bus    *events.Bus
	logger zerolog.Logger

	// Per-trade locks. Entries live for the life of the process; trades
	// are short-lived enough that this does not grow without bound.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a trade lifecycle manager. cache and bus may be nil;
// a nil cache gets an in-memory one.
func NewManager(store Store, cache PerfCache, logger zerolog.Logger, bus *events.Bus) *Manager {
	if cache == nil {
		cache = NewMemPerfCache()
	}
	return &Manager{
		store:  store,
		cache:  cache,
		bus:    bus,
		logger: logger.With().Str("component", "TradeManager").Logger(),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (m *Manager) lockTrade(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

// Create records a new PENDING trade.
func (m *Manager) Create(ctx context.Context, spec Spec) (*Trade, error) {
	if spec.BotID == "" || spec.Symbol == "" {
		return nil, fmt.Errorf("trade spec requires bot id and symbol")
	}
	if spec.Direction != DirectionBuy && spec.Direction != DirectionSell {
		return nil, fmt.Errorf("invalid direction %q", spec.Direction)
	}
	if spec.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", spec.Quantity)
	}

	t := &Trade{
		ID:         uuid.New().String(),
		BotID:      spec.BotID,
		UserID:     spec.UserID,
		Symbol:     spec.Symbol,
		Direction:  spec.Direction,
		OrderType:  spec.OrderType,
		Quantity:   spec.Quantity,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Status:     StatusPending,
		CreatedAt:  m.now(),
	}
	if t.OrderType == "" {
		t.OrderType = "MARKET"
	}

	if err := m.store.SaveTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	m.logger.Info().
		Str("trade_id", t.ID).
		Str("bot_id", t.BotID).
		Str("symbol", t.Symbol).
		Str("direction", string(t.Direction)).
		Float64("quantity", t.Quantity).
		Msg("Trade created")

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventTradeCreated,
			Data: map[string]interface{}{
				"trade_id": t.ID,
				"bot_id":   t.BotID,
				"symbol":   t.Symbol,
			},
		})
	}
	return t, nil
}

// Execute transitions PENDING -> OPEN at the broker's fill price and
// creates the mirrored position.
func (m *Manager) Execute(ctx context.Context, tradeID string, fill Fill) (*Trade, error) {
	mu := m.lockTrade(tradeID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, &StateError{TradeID: tradeID, Status: t.Status, Op: "execute"}
	}
	if fill.EntryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", fill.EntryPrice)
	}

	now := m.now()
	t.Status = StatusOpen
	t.EntryPrice = fill.EntryPrice
	t.CurrentPrice = fill.EntryPrice
	t.BrokerOrderID = fill.BrokerOrderID
	t.BrokerPositionID = fill.BrokerPositionID
	t.OpenedAt = &now

	if err := m.store.SaveTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	pos := &Position{
		TradeID:      t.ID,
		BotID:        t.BotID,
		UserID:       t.UserID,
		Symbol:       t.Symbol,
		Direction:    t.Direction,
		Quantity:     t.Quantity,
		EntryPrice:   t.EntryPrice,
		CurrentPrice: t.EntryPrice,
		Open:         true,
		OpenedAt:     now,
	}
	if err := m.store.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	if err := m.bumpTradesOpened(ctx, t.BotID, now); err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Failed to update daily summary on open")
	}

	m.logger.Info().
		Str("trade_id", t.ID).
		Str("bot_id", t.BotID).
		Float64("entry_price", t.EntryPrice).
		Msg("Trade opened")

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventTradeOpened,
			Data: map[string]interface{}{
				"trade_id":    t.ID,
				"bot_id":      t.BotID,
				"symbol":      t.Symbol,
				"entry_price": t.EntryPrice,
			},
		})
	}
	return t, nil
}

// UpdatePrice marks an OPEN trade at the current price and recomputes
// unrealized P&L. Status does not change.
func (m *Manager) UpdatePrice(ctx context.Context, tradeID string, currentPrice float64) error {
	mu := m.lockTrade(tradeID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != StatusOpen {
		return &StateError{TradeID: tradeID, Status: t.Status, Op: "update price of"}
	}

	t.CurrentPrice = currentPrice
	t.ProfitLoss = realizedPnL(t.Direction, t.EntryPrice, currentPrice, t.Quantity, t.Fees)
	t.ProfitLossPercent = pnlPercent(t.ProfitLoss, t.EntryPrice, t.Quantity)

	if err := m.store.SaveTrade(ctx, t); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	if pos, err := m.store.GetPosition(ctx, tradeID); err == nil {
		pos.CurrentPrice = currentPrice
		pos.ProfitLoss = t.ProfitLoss
		if err := m.store.SavePosition(ctx, pos); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", tradeID).Msg("Failed to update position price")
		}
	}
	return nil
}

// Close transitions OPEN -> CLOSED, realizes P&L, updates the mirrored
// position, recomputes the bot's performance, and upserts the day's
// summary additively.
func (m *Manager) Close(ctx context.Context, tradeID string, exitPrice float64, exitReason string, fees float64) (*Trade, error) {
	mu := m.lockTrade(tradeID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusOpen {
		return nil, &StateError{TradeID: tradeID, Status: t.Status, Op: "close"}
	}
	if exitPrice <= 0 {
		return nil, fmt.Errorf("exit price must be positive, got %v", exitPrice)
	}

	now := m.now()
	t.Status = StatusClosed
	t.ExitPrice = exitPrice
	t.CurrentPrice = exitPrice
	t.ExitReason = exitReason
	t.Fees = fees
	t.ClosedAt = &now
	if t.OpenedAt != nil {
		t.Duration = now.Sub(*t.OpenedAt).Seconds()
	}

	t.ProfitLoss = realizedPnL(t.Direction, t.EntryPrice, exitPrice, t.Quantity, fees)
	t.ProfitLossPercent = pnlPercent(t.ProfitLoss, t.EntryPrice, t.Quantity)
	t.RiskRewardRatio = riskRewardRatio(t.EntryPrice, exitPrice, t.StopLoss)

	if err := m.store.SaveTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	if pos, err := m.store.GetPosition(ctx, tradeID); err == nil {
		pos.CurrentPrice = exitPrice
		pos.ProfitLoss = t.ProfitLoss
		pos.Open = false
		pos.ClosedAt = &now
		if err := m.store.SavePosition(ctx, pos); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", tradeID).Msg("Failed to close position")
		}
	}

	perf, err := m.recomputePerformance(ctx, t.BotID)
	if err != nil {
		m.logger.Warn().Err(err).Str("bot_id", t.BotID).Msg("Failed to recompute performance")
	}

	if err := m.upsertDailySummary(ctx, t, perf, now); err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Failed to upsert daily summary")
	}

	m.logger.Info().
		Str("trade_id", t.ID).
		Str("bot_id", t.BotID).
		Str("symbol", t.Symbol).
		Float64("pnl", t.ProfitLoss).
		Float64("pnl_percent", t.ProfitLossPercent).
		Str("exit_reason", exitReason).
		Msg("Trade closed")

	if m.bus != nil {
		m.bus.PublishTradeClosed(t.BotID, t.ID, t.Symbol, t.ProfitLoss, t.ProfitLossPercent)
	}
	return t, nil
}

// Cancel transitions PENDING -> CANCELLED.
func (m *Manager) Cancel(ctx context.Context, tradeID string, reason string) (*Trade, error) {
	mu := m.lockTrade(tradeID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, &StateError{TradeID: tradeID, Status: t.Status, Op: "cancel"}
	}

	t.Status = StatusCancelled
	t.ExitReason = reason

	if err := m.store.SaveTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	m.logger.Info().Str("trade_id", t.ID).Str("reason", reason).Msg("Trade cancelled")

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventTradeCancelled,
			Data: map[string]interface{}{
				"trade_id": t.ID,
				"bot_id":   t.BotID,
				"reason":   reason,
			},
		})
	}
	return t, nil
}

// Get returns one trade by id.
func (m *Manager) Get(ctx context.Context, tradeID string) (*Trade, error) {
	return m.store.GetTrade(ctx, tradeID)
}

// ActiveTrades returns the bot's OPEN trades.
func (m *Manager) ActiveTrades(ctx context.Context, botID string) ([]*Trade, error) {
	return m.store.OpenTrades(ctx, botID)
}

// History returns the bot's trades newest first.
func (m *Manager) History(ctx context.Context, botID string, limit int) ([]*Trade, error) {
	return m.store.History(ctx, botID, limit)
}

// BotPerformance returns the bot's rolling performance, computing it on
// demand when the cache is cold.
func (m *Manager) BotPerformance(ctx context.Context, botID string) (*Performance, error) {
	if perf, ok := m.cache.Get(ctx, botID); ok {
		return perf, nil
	}
	return m.recomputePerformance(ctx, botID)
}

// DailySummaries returns the bot's daily summaries newest first.
func (m *Manager) DailySummaries(ctx context.Context, botID string, limit int) ([]*DailyPnLSummary, error) {
	return m.store.DailySummaries(ctx, botID, limit)
}
