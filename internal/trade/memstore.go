package trade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store. It backs tests and serves as the
// fallback when PostgreSQL is not configured, the same way the
// performance cache falls back when Redis is absent.
type MemStore struct {
	mu        sync.RWMutex
	trades    map[string]*Trade
	positions map[string]*Position
	summaries map[string]*DailyPnLSummary // key: botID + "|" + day
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		trades:    make(map[string]*Trade),
		positions: make(map[string]*Position),
		summaries: make(map[string]*DailyPnLSummary),
	}
}

func summaryKey(botID string, day time.Time) string {
	return botID + "|" + summaryDay(day).Format("2006-01-02")
}

func copyTrade(t *Trade) *Trade {
	cp := *t
	return &cp
}

func (s *MemStore) SaveTrade(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = copyTrade(t)
	return nil
}

func (s *MemStore) GetTrade(ctx context.Context, id string) (*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return copyTrade(t), nil
}

func (s *MemStore) tradesByStatus(botID string, status Status) []*Trade {
	var out []*Trade
	for _, t := range s.trades {
		if t.BotID == botID && t.Status == status {
			out = append(out, copyTrade(t))
		}
	}
	return out
}

func (s *MemStore) OpenTrades(ctx context.Context, botID string) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.tradesByStatus(botID, StatusOpen)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) ClosedTrades(ctx context.Context, botID string) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.tradesByStatus(botID, StatusClosed)
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].ClosedAt, out[j].ClosedAt
		if ti == nil || tj == nil {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return ti.Before(*tj)
	})
	return out, nil
}

func (s *MemStore) History(ctx context.Context, botID string, limit int) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Trade
	for _, t := range s.trades {
		if t.BotID == botID {
			out = append(out, copyTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SavePosition(ctx context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.TradeID] = &cp
	return nil
}

func (s *MemStore) GetPosition(ctx context.Context, tradeID string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[tradeID]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) OpenPositions(ctx context.Context, botID string) ([]*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Position
	for _, p := range s.positions {
		if p.BotID == botID && p.Open {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (s *MemStore) GetDailySummary(ctx context.Context, botID string, day time.Time) (*DailyPnLSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[summaryKey(botID, day)]
	if !ok {
		return nil, nil
	}
	cp := *sum
	return &cp, nil
}

func (s *MemStore) SaveDailySummary(ctx context.Context, sum *DailyPnLSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sum
	cp.SummaryDate = summaryDay(sum.SummaryDate)
	s.summaries[summaryKey(sum.BotID, sum.SummaryDate)] = &cp
	return nil
}

func (s *MemStore) DailySummaries(ctx context.Context, botID string, limit int) ([]*DailyPnLSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DailyPnLSummary
	for _, sum := range s.summaries {
		if sum.BotID == botID {
			cp := *sum
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SummaryDate.After(out[j].SummaryDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
