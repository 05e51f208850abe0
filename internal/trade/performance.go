package trade

import (
	"context"
	"sync"
	"time"
)

// PerfCache holds each bot's rolling performance snapshot. The Redis
// implementation lives in internal/database; this package ships an
// in-memory fallback so the manager works without Redis.
type PerfCache interface {
	Get(ctx context.Context, botID string) (*Performance, bool)
	Set(ctx context.Context, perf *Performance)
}

// MemPerfCache is the in-memory PerfCache.
type MemPerfCache struct {
	mu    sync.RWMutex
	perfs map[string]*Performance
}

// NewMemPerfCache creates an empty in-memory performance cache.
func NewMemPerfCache() *MemPerfCache {
	return &MemPerfCache{perfs: make(map[string]*Performance)}
}

func (c *MemPerfCache) Get(ctx context.Context, botID string) (*Performance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perf, ok := c.perfs[botID]
	if !ok {
		return nil, false
	}
	cp := *perf
	return &cp, true
}

func (c *MemPerfCache) Set(ctx context.Context, perf *Performance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *perf
	c.perfs[perf.BotID] = &cp
}

// maxDrawdown walks cumulative realized P&L over closed trades in close
// order and returns the largest peak-to-trough decline. The peak starts at
// zero so a losing streak from flat counts as drawdown.
func maxDrawdown(closed []*Trade) float64 {
	var cumulative, peak, maxDD float64
	for _, t := range closed {
		cumulative += t.ProfitLoss
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// recomputePerformance rebuilds the bot's performance snapshot from its
// closed trades and refreshes the cache.
func (m *Manager) recomputePerformance(ctx context.Context, botID string) (*Performance, error) {
	closed, err := m.store.ClosedTrades(ctx, botID)
	if err != nil {
		return nil, err
	}

	perf := &Performance{
		BotID:     botID,
		UpdatedAt: m.now(),
	}
	for _, t := range closed {
		perf.TradeCount++
		perf.TotalPnL += t.ProfitLoss
		if t.ProfitLoss >= 0 {
			perf.WinCount++
		} else {
			perf.LossCount++
		}
	}
	if perf.TradeCount > 0 {
		perf.WinRate = float64(perf.WinCount) / float64(perf.TradeCount) * 100
	}
	perf.MaxDrawdown = maxDrawdown(closed)

	m.cache.Set(ctx, perf)
	return perf, nil
}

// bumpTradesOpened lazily creates the day's summary and counts an open.
func (m *Manager) bumpTradesOpened(ctx context.Context, botID string, at time.Time) error {
	day := summaryDay(at)
	sum, err := m.store.GetDailySummary(ctx, botID, day)
	if err != nil {
		return err
	}
	if sum == nil {
		sum = &DailyPnLSummary{BotID: botID, SummaryDate: day}
	}
	sum.TradesOpened++
	sum.UpdatedAt = m.now()
	return m.store.SaveDailySummary(ctx, sum)
}

// upsertDailySummary folds one closed trade into the day's summary.
// Additive on every close: dailyPnL accumulates, largest win/loss are
// running max/min, cumulativePnL and drawdown come from the freshly
// recomputed performance snapshot.
func (m *Manager) upsertDailySummary(ctx context.Context, t *Trade, perf *Performance, closedAt time.Time) error {
	day := summaryDay(closedAt)
	sum, err := m.store.GetDailySummary(ctx, t.BotID, day)
	if err != nil {
		return err
	}
	if sum == nil {
		sum = &DailyPnLSummary{BotID: t.BotID, SummaryDate: day}
	}

	sum.DailyPnL += t.ProfitLoss
	sum.TradesClosed++
	if t.ProfitLoss >= 0 {
		sum.WinningTrades++
		if t.ProfitLoss > sum.LargestWin {
			sum.LargestWin = t.ProfitLoss
		}
	} else {
		sum.LosingTrades++
		if t.ProfitLoss < sum.LargestLoss {
			sum.LargestLoss = t.ProfitLoss
		}
	}
	if perf != nil {
		sum.CumulativePnL = perf.TotalPnL
		sum.Drawdown = perf.MaxDrawdown
	} else {
		sum.CumulativePnL += t.ProfitLoss
	}
	sum.UpdatedAt = m.now()

	return m.store.SaveDailySummary(ctx, sum)
}
