package trade

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager() (*Manager, *MemStore, *testClock) {
	store := NewMemStore()
	clock := &testClock{t: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
	m := NewManager(store, nil, zerolog.Nop(), nil)
	m.now = clock.Now
	return m, store, clock
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func openTrade(t *testing.T, m *Manager, spec Spec, entry float64) *Trade {
	t.Helper()
	ctx := context.Background()
	tr, err := m.Create(ctx, spec)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tr, err = m.Execute(ctx, tr.ID, Fill{EntryPrice: entry, BrokerOrderID: "ord-1"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	return tr
}

// ============================================================
// Lifecycle and P&L
// ============================================================

func TestBuyTradeFullLifecycle(t *testing.T) {
	m, store, clock := newTestManager()
	ctx := context.Background()

	tr := openTrade(t, m, Spec{
		BotID: "bot-1", UserID: "user-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)

	if tr.Status != StatusOpen {
		t.Fatalf("expected OPEN, got %s", tr.Status)
	}
	if tr.OpenedAt == nil {
		t.Fatal("expected open timestamp")
	}

	clock.Advance(30 * time.Minute)

	closed, err := m.Close(ctx, tr.ID, 110, "take_profit", 1)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Status != StatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	if !almostEqual(closed.ProfitLoss, 9) {
		t.Fatalf("expected pnl 9, got %v", closed.ProfitLoss)
	}
	if !almostEqual(closed.ProfitLossPercent, 9) {
		t.Fatalf("expected pnl percent 9, got %v", closed.ProfitLossPercent)
	}
	if !almostEqual(closed.Duration, (30 * time.Minute).Seconds()) {
		t.Fatalf("expected duration 1800s, got %v", closed.Duration)
	}

	pos, err := store.GetPosition(ctx, tr.ID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if pos.Open {
		t.Fatal("position should be closed")
	}
	if !almostEqual(pos.ProfitLoss, 9) {
		t.Fatalf("position pnl should be 9, got %v", pos.ProfitLoss)
	}
}

func TestSellTradePnL(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tr := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "ETHUSDT",
		Direction: DirectionSell, Quantity: 2,
	}, 100)

	closed, err := m.Close(ctx, tr.ID, 90, "take_profit", 0)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !almostEqual(closed.ProfitLoss, 20) {
		t.Fatalf("expected pnl 20, got %v", closed.ProfitLoss)
	}
}

func TestRiskRewardRatio(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tr := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1, StopLoss: 95,
	}, 100)

	closed, err := m.Close(ctx, tr.ID, 110, "take_profit", 0)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// |110-100| / |100-95| = 2
	if !almostEqual(closed.RiskRewardRatio, 2) {
		t.Fatalf("expected rr 2, got %v", closed.RiskRewardRatio)
	}

	// No stop loss means no ratio.
	tr2 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	closed2, err := m.Close(ctx, tr2.ID, 110, "manual", 0)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed2.RiskRewardRatio != 0 {
		t.Fatalf("expected rr 0 without stop loss, got %v", closed2.RiskRewardRatio)
	}
}

func TestUpdatePriceRecomputesUnrealized(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tr := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 2,
	}, 50)

	if err := m.UpdatePrice(ctx, tr.ID, 55); err != nil {
		t.Fatalf("update price failed: %v", err)
	}

	got, err := m.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusOpen {
		t.Fatalf("price update must not change status, got %s", got.Status)
	}
	if !almostEqual(got.ProfitLoss, 10) {
		t.Fatalf("expected unrealized pnl 10, got %v", got.ProfitLoss)
	}
	if !almostEqual(got.CurrentPrice, 55) {
		t.Fatalf("expected current price 55, got %v", got.CurrentPrice)
	}
}

func TestCancelPendingTrade(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tr, err := m.Create(ctx, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cancelled, err := m.Cancel(ctx, tr.ID, "admission denied")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.ExitReason != "admission denied" {
		t.Fatalf("unexpected reason: %q", cancelled.ExitReason)
	}
}

// ============================================================
// State machine violations fail loudly
// ============================================================

func TestOutOfStateOperationsFail(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tr := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)

	// Execute twice.
	var stateErr *StateError
	if _, err := m.Execute(ctx, tr.ID, Fill{EntryPrice: 100}); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError on double execute, got %v", err)
	}

	// Cancel an OPEN trade.
	if _, err := m.Cancel(ctx, tr.ID, "nope"); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError cancelling OPEN trade, got %v", err)
	}

	if _, err := m.Close(ctx, tr.ID, 110, "take_profit", 0); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Close twice.
	if _, err := m.Close(ctx, tr.ID, 120, "again", 0); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError on double close, got %v", err)
	}

	// Price tick on a CLOSED trade.
	if err := m.UpdatePrice(ctx, tr.ID, 115); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError pricing CLOSED trade, got %v", err)
	}

	// Price tick on a PENDING trade.
	pending, err := m.Create(ctx, Spec{
		BotID: "bot-1", Symbol: "ETHUSDT",
		Direction: DirectionBuy, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.UpdatePrice(ctx, pending.ID, 10); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError pricing PENDING trade, got %v", err)
	}
}

func TestUnknownTradeID(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	if _, err := m.Execute(ctx, "missing", Fill{EntryPrice: 1}); !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("expected ErrTradeNotFound, got %v", err)
	}
	if _, err := m.Close(ctx, "missing", 1, "x", 0); !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("expected ErrTradeNotFound, got %v", err)
	}
	if err := m.UpdatePrice(ctx, "missing", 1); !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("expected ErrTradeNotFound, got %v", err)
	}
}

// ============================================================
// Daily summaries and performance
// ============================================================

func TestSameDayClosesAccumulateAdditively(t *testing.T) {
	m, store, clock := newTestManager()
	ctx := context.Background()

	// Win of +9.
	t1 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	if _, err := m.Close(ctx, t1.ID, 110, "take_profit", 1); err != nil {
		t.Fatalf("close 1 failed: %v", err)
	}

	clock.Advance(time.Hour)

	// Loss of -5.
	t2 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "ETHUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	if _, err := m.Close(ctx, t2.ID, 95, "stop_loss", 0); err != nil {
		t.Fatalf("close 2 failed: %v", err)
	}

	sum, err := store.GetDailySummary(ctx, "bot-1", clock.Now())
	if err != nil {
		t.Fatalf("summary lookup failed: %v", err)
	}
	if sum == nil {
		t.Fatal("expected a summary row for the day")
	}
	if !almostEqual(sum.DailyPnL, 4) {
		t.Fatalf("expected daily pnl 9-5=4, got %v", sum.DailyPnL)
	}
	if !almostEqual(sum.CumulativePnL, 4) {
		t.Fatalf("expected cumulative pnl 4, got %v", sum.CumulativePnL)
	}
	if sum.TradesOpened != 2 || sum.TradesClosed != 2 {
		t.Fatalf("expected 2 opened and 2 closed, got %d/%d", sum.TradesOpened, sum.TradesClosed)
	}
	if sum.WinningTrades != 1 || sum.LosingTrades != 1 {
		t.Fatalf("expected 1 win and 1 loss, got %d/%d", sum.WinningTrades, sum.LosingTrades)
	}
	if !almostEqual(sum.LargestWin, 9) {
		t.Fatalf("expected largest win 9, got %v", sum.LargestWin)
	}
	if !almostEqual(sum.LargestLoss, -5) {
		t.Fatalf("expected largest loss -5, got %v", sum.LargestLoss)
	}
}

func TestSummariesSplitAcrossDays(t *testing.T) {
	m, store, clock := newTestManager()
	ctx := context.Background()

	t1 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	if _, err := m.Close(ctx, t1.ID, 110, "take_profit", 0); err != nil {
		t.Fatalf("close 1 failed: %v", err)
	}
	day1 := clock.Now()

	clock.Advance(24 * time.Hour)

	t2 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	if _, err := m.Close(ctx, t2.ID, 105, "take_profit", 0); err != nil {
		t.Fatalf("close 2 failed: %v", err)
	}

	sum1, err := store.GetDailySummary(ctx, "bot-1", day1)
	if err != nil || sum1 == nil {
		t.Fatalf("day 1 summary missing: %v", err)
	}
	sum2, err := store.GetDailySummary(ctx, "bot-1", clock.Now())
	if err != nil || sum2 == nil {
		t.Fatalf("day 2 summary missing: %v", err)
	}

	if !almostEqual(sum1.DailyPnL, 10) {
		t.Fatalf("expected day 1 pnl 10, got %v", sum1.DailyPnL)
	}
	if !almostEqual(sum2.DailyPnL, 5) {
		t.Fatalf("expected day 2 pnl 5, got %v", sum2.DailyPnL)
	}
	// Cumulative carries across days.
	if !almostEqual(sum2.CumulativePnL, 15) {
		t.Fatalf("expected cumulative 15 on day 2, got %v", sum2.CumulativePnL)
	}
}

func TestMaxDrawdownPeakToTrough(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()

	// Realized sequence: +10, +5, -8, -4, +20.
	// Cumulative: 10, 15, 7, 3, 23. Peak 15, trough 3 => drawdown 12.
	steps := []struct {
		exit float64
		fees float64
	}{
		{110, 0}, {105, 0}, {92, 0}, {96, 0}, {120, 0},
	}
	for _, step := range steps {
		tr := openTrade(t, m, Spec{
			BotID: "bot-1", Symbol: "BTCUSDT",
			Direction: DirectionBuy, Quantity: 1,
		}, 100)
		clock.Advance(time.Minute)
		if _, err := m.Close(ctx, tr.ID, step.exit, "test", step.fees); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		clock.Advance(time.Minute)
	}

	perf, err := m.BotPerformance(ctx, "bot-1")
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}
	if perf.TradeCount != 5 {
		t.Fatalf("expected 5 trades, got %d", perf.TradeCount)
	}
	if !almostEqual(perf.TotalPnL, 23) {
		t.Fatalf("expected total pnl 23, got %v", perf.TotalPnL)
	}
	if !almostEqual(perf.MaxDrawdown, 12) {
		t.Fatalf("expected max drawdown 12, got %v", perf.MaxDrawdown)
	}
	if !almostEqual(perf.WinRate, 60) {
		t.Fatalf("expected win rate 60, got %v", perf.WinRate)
	}
}

func TestActiveTradesAndHistory(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()

	t1 := openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Direction: DirectionBuy, Quantity: 1,
	}, 100)
	clock.Advance(time.Minute)
	openTrade(t, m, Spec{
		BotID: "bot-1", Symbol: "ETHUSDT",
		Direction: DirectionSell, Quantity: 1,
	}, 50)
	clock.Advance(time.Minute)

	if _, err := m.Close(ctx, t1.ID, 105, "take_profit", 0); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	active, err := m.ActiveTrades(ctx, "bot-1")
	if err != nil {
		t.Fatalf("active trades failed: %v", err)
	}
	if len(active) != 1 || active[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected only the ETHUSDT trade open, got %d", len(active))
	}

	history, err := m.History(ctx, "bot-1", 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 trades in history, got %d", len(history))
	}
	// Newest first.
	if history[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected newest trade first, got %s", history[0].Symbol)
	}

	limited, err := m.History(ctx, "bot-1", 1)
	if err != nil {
		t.Fatalf("limited history failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected history capped at 1, got %d", len(limited))
	}
}

func TestCreateValidation(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	cases := []Spec{
		{Symbol: "BTCUSDT", Direction: DirectionBuy, Quantity: 1},             // no bot
		{BotID: "b", Direction: DirectionBuy, Quantity: 1},                    // no symbol
		{BotID: "b", Symbol: "BTCUSDT", Direction: "LONG", Quantity: 1},       // bad direction
		{BotID: "b", Symbol: "BTCUSDT", Direction: DirectionBuy, Quantity: 0}, // bad quantity
	}
	for i, spec := range cases {
		if _, err := m.Create(ctx, spec); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
