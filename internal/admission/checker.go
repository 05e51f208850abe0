package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/events"
	"trade-coordinator/internal/trade"
)

// The admission checker is the pre-trade policy layer: six sequential
// gates evaluated before a trade request may proceed to execution. Gates
// are fail-closed and short-circuit on the first rejection. A rejection is
// a decision result, not an error.

// Config holds admission thresholds. Zero values get defaults.
type Config struct {
	MaxSimultaneousTrades int     `json:"max_simultaneous_trades"`
	AllowHedging          bool    `json:"allow_hedging"`
	CooldownMultiplier    int     `json:"cooldown_multiplier"` // times the bot's timeframe interval
	MaxTradesPerHour      int     `json:"max_trades_per_hour"`
	MaxTradesPerDay       int     `json:"max_trades_per_day"`
	MaxExposurePercent    float64 `json:"max_exposure_percent"`
}

// DefaultConfig returns production thresholds.
func DefaultConfig() *Config {
	return &Config{
		MaxSimultaneousTrades: 3,
		AllowHedging:          false,
		CooldownMultiplier:    3,
		MaxTradesPerHour:      6,
		MaxTradesPerDay:       20,
		MaxExposurePercent:    50,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxSimultaneousTrades == 0 {
		out.MaxSimultaneousTrades = def.MaxSimultaneousTrades
	}
	if out.CooldownMultiplier == 0 {
		out.CooldownMultiplier = def.CooldownMultiplier
	}
	if out.MaxTradesPerHour == 0 {
		out.MaxTradesPerHour = def.MaxTradesPerHour
	}
	if out.MaxTradesPerDay == 0 {
		out.MaxTradesPerDay = def.MaxTradesPerDay
	}
	if out.MaxExposurePercent == 0 {
		out.MaxExposurePercent = def.MaxExposurePercent
	}
	return &out
}

// TradeReader is the slice of the trade manager the checker needs.
type TradeReader interface {
	ActiveTrades(ctx context.Context, botID string) ([]*trade.Trade, error)
	History(ctx context.Context, botID string, limit int) ([]*trade.Trade, error)
}

// MarketOracle reports whether current market conditions are tradeable
// for a symbol.
type MarketOracle interface {
	Tradeable(ctx context.Context, symbol string) (bool, string, error)
}

// Request describes the trade a bot wants to open.
type Request struct {
	BotID             string
	Symbol            string
	Direction         trade.Direction
	Quantity          float64
	Price             float64
	TimeframeInterval time.Duration // the bot's candle interval, drives the cooldown
	AccountBalance    float64       // for the exposure gate; 0 skips it
}

// Decision is the outcome of one admission run. Reason names the gate
// that rejected when Allowed is false.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Checker evaluates trade admission gates.
type Checker struct {
	cfg    *Config
	trades TradeReader
	oracle MarketOracle
	bus    *events.Bus
	logger zerolog.Logger

	now func() time.Time
}

// NewChecker creates a checker. oracle and bus may be nil; a nil oracle
// skips the market-suitability gate.
func NewChecker(cfg *Config, trades TradeReader, oracle MarketOracle, logger zerolog.Logger, bus *events.Bus) *Checker {
	return &Checker{
		cfg:    cfg.withDefaults(),
		trades: trades,
		oracle: oracle,
		bus:    bus,
		logger: logger.With().Str("component", "AdmissionChecker").Logger(),
		now:    time.Now,
	}
}

// Check runs the gates in order and short-circuits on the first failure.
// An error from a collaborator is fail-closed: the trade is denied.
func (c *Checker) Check(ctx context.Context, req Request) (Decision, error) {
	open, err := c.trades.ActiveTrades(ctx, req.BotID)
	if err != nil {
		return deny("failed to read open trades"), err
	}

	gates := []func(ctx context.Context, req Request, open []*trade.Trade) (Decision, error){
		c.checkSimultaneousCap,
		c.checkSymbolExposure,
		c.checkCooldown,
		c.checkOvertrading,
		c.checkExposureCeiling,
		c.checkMarketConditions,
	}

	for _, gate := range gates {
		decision, err := gate(ctx, req, open)
		if err != nil {
			return decision, err
		}
		if !decision.Allowed {
			c.logger.Info().
				Str("bot_id", req.BotID).
				Str("symbol", req.Symbol).
				Str("reason", decision.Reason).
				Msg("Trade admission denied")
			if c.bus != nil {
				c.bus.Publish(events.Event{
					Type: events.EventAdmissionDenied,
					Data: map[string]interface{}{
						"bot_id": req.BotID,
						"symbol": req.Symbol,
						"reason": decision.Reason,
					},
				})
			}
			return decision, nil
		}
	}
	return allow(), nil
}

// Gate 1: simultaneous-trade cap.
func (c *Checker) checkSimultaneousCap(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	if len(open) >= c.cfg.MaxSimultaneousTrades {
		return deny(fmt.Sprintf("simultaneous trade cap reached: %d open trades, max %d",
			len(open), c.cfg.MaxSimultaneousTrades)), nil
	}
	return allow(), nil
}

// Gate 2: duplicate or opposing exposure on the same symbol. Opposing
// direction is a hedge, forbidden unless AllowHedging is set.
func (c *Checker) checkSymbolExposure(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	for _, t := range open {
		if t.Symbol != req.Symbol {
			continue
		}
		if t.Direction == req.Direction {
			return deny(fmt.Sprintf("already holding an open %s trade on %s", t.Direction, t.Symbol)), nil
		}
		if !c.cfg.AllowHedging {
			return deny(fmt.Sprintf("opposing %s trade open on %s and hedging is disabled", t.Direction, t.Symbol)), nil
		}
	}
	return allow(), nil
}

// Gate 3: cooldown since the bot's last trade on the symbol must exceed
// CooldownMultiplier times the bot's timeframe interval.
func (c *Checker) checkCooldown(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	if req.TimeframeInterval <= 0 {
		return allow(), nil
	}
	history, err := c.trades.History(ctx, req.BotID, 50)
	if err != nil {
		return deny("failed to read trade history"), err
	}

	cooldown := time.Duration(c.cfg.CooldownMultiplier) * req.TimeframeInterval
	now := c.now()
	for _, t := range history {
		if t.Symbol != req.Symbol {
			continue
		}
		elapsed := now.Sub(t.CreatedAt)
		if elapsed < cooldown {
			return deny(fmt.Sprintf("cooldown active on %s: wait %s more (cooldown %s)",
				req.Symbol, (cooldown - elapsed).Round(time.Second), cooldown)), nil
		}
		// History is newest first; the first match is the latest trade.
		break
	}
	return allow(), nil
}

// Gate 4: hourly and daily overtrading ceilings.
func (c *Checker) checkOvertrading(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	history, err := c.trades.History(ctx, req.BotID, 0)
	if err != nil {
		return deny("failed to read trade history"), err
	}

	now := c.now()
	var lastHour, lastDay int
	for _, t := range history {
		age := now.Sub(t.CreatedAt)
		if age < time.Hour {
			lastHour++
		}
		if age < 24*time.Hour {
			lastDay++
		}
	}

	if lastHour >= c.cfg.MaxTradesPerHour {
		return deny(fmt.Sprintf("hourly trade limit reached: %d of %d", lastHour, c.cfg.MaxTradesPerHour)), nil
	}
	if lastDay >= c.cfg.MaxTradesPerDay {
		return deny(fmt.Sprintf("daily trade limit reached: %d of %d", lastDay, c.cfg.MaxTradesPerDay)), nil
	}
	return allow(), nil
}

// Gate 5: total portfolio exposure must stay below the ceiling. Skipped
// when the request carries no balance.
func (c *Checker) checkExposureCeiling(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	if req.AccountBalance <= 0 {
		return allow(), nil
	}

	exposure := req.Price * req.Quantity
	for _, t := range open {
		exposure += t.EntryPrice * t.Quantity
	}
	percent := exposure / req.AccountBalance * 100

	if percent > c.cfg.MaxExposurePercent {
		return deny(fmt.Sprintf("portfolio exposure %.1f%% would exceed the %.1f%% ceiling",
			percent, c.cfg.MaxExposurePercent)), nil
	}
	return allow(), nil
}

// Gate 6: external market-conditions oracle.
func (c *Checker) checkMarketConditions(ctx context.Context, req Request, open []*trade.Trade) (Decision, error) {
	if c.oracle == nil {
		return allow(), nil
	}
	tradeable, reason, err := c.oracle.Tradeable(ctx, req.Symbol)
	if err != nil {
		return deny("market conditions unavailable"), err
	}
	if !tradeable {
		if reason == "" {
			reason = "market conditions not suitable"
		}
		return deny(reason), nil
	}
	return allow(), nil
}
