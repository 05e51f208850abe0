package trade

import (
	"context"
	"time"
)

// Store persists trades, positions, and daily summaries. Implementations
// must make each Save an atomic replace of the entity.
type Store interface {
	SaveTrade(ctx context.Context, t *Trade) error
	GetTrade(ctx context.Context, id string) (*Trade, error)

	// OpenTrades returns the bot's OPEN trades. ClosedTrades returns the
	// bot's CLOSED trades ordered by close time ascending.
	OpenTrades(ctx context.Context, botID string) ([]*Trade, error)
	ClosedTrades(ctx context.Context, botID string) ([]*Trade, error)

	// History returns the bot's trades newest first, capped at limit
	// (limit <= 0 means no cap).
	History(ctx context.Context, botID string, limit int) ([]*Trade, error)

	SavePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, tradeID string) (*Position, error)
	OpenPositions(ctx context.Context, botID string) ([]*Position, error)

	// GetDailySummary returns nil, nil when no row exists for the day.
	GetDailySummary(ctx context.Context, botID string, day time.Time) (*DailyPnLSummary, error)
	SaveDailySummary(ctx context.Context, s *DailyPnLSummary) error
	DailySummaries(ctx context.Context, botID string, limit int) ([]*DailyPnLSummary, error)
}
