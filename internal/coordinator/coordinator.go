package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/broker"
	"trade-coordinator/internal/events"
)

// ErrGroupClosed rejects requests still queued when a credential group is
// destroyed because its last bot unregistered.
var ErrGroupClosed = errors.New("credential group removed")

// Config holds coordinator tuning. Zero values are replaced by defaults.
type Config struct {
	EmergencyEnableBots       int           // bot count at which emergency mode turns on
	EmergencyDisableBots      int           // bot count below which it turns off
	RateLimitHitsForEmergency int           // hits within an hour that force emergency mode
	PostRequestBase           time.Duration // fixed pause after each successful request
	PostRequestPerBot         time.Duration // extra pause per registered bot
}

// DefaultConfig returns the production tuning. The 15-enable/10-disable gap
// is hysteresis: without it a credential hovering near the threshold would
// flap in and out of emergency mode on every register/unregister.
func DefaultConfig() *Config {
	return &Config{
		EmergencyEnableBots:       15,
		EmergencyDisableBots:      10,
		RateLimitHitsForEmergency: 3,
		PostRequestBase:           500 * time.Millisecond,
		PostRequestPerBot:         100 * time.Millisecond,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.EmergencyEnableBots == 0 {
		out.EmergencyEnableBots = def.EmergencyEnableBots
	}
	if out.EmergencyDisableBots == 0 {
		out.EmergencyDisableBots = def.EmergencyDisableBots
	}
	if out.RateLimitHitsForEmergency == 0 {
		out.RateLimitHitsForEmergency = def.RateLimitHitsForEmergency
	}
	if out.PostRequestBase == 0 {
		out.PostRequestBase = def.PostRequestBase
	}
	if out.PostRequestPerBot == 0 {
		out.PostRequestPerBot = def.PostRequestPerBot
	}
	return &out
}

// credentialGroup is the fairness unit: all state for the bots sharing one
// broker credential. Everything inside is guarded by mu; the processing
// flag guarantees at most one loop drains the queue at any time.
type credentialGroup struct {
	id string

	mu         sync.Mutex
	bots       map[string]struct{}
	queue      []*queuedRequest
	processing bool
	seq        uint64

	emergency     bool
	lastRequest   time.Time
	requestCount  int
	minuteStart   time.Time
	rateLimitHits int
	hourStart     time.Time
	cooldownUntil time.Time
}

// Coordinator schedules broker requests per credential: fair priority
// queueing, dynamic rate governance scaled to bot count, and destructive
// backpressure when the broker pushes back.
type Coordinator struct {
	mu     sync.RWMutex
	groups map[string]*credentialGroup

	cfg    *Config
	logger zerolog.Logger
	bus    *events.Bus

	// Injected in tests for deterministic time.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a coordinator. bus may be nil.
func New(cfg *Config, logger zerolog.Logger, bus *events.Bus) *Coordinator {
	return &Coordinator{
		groups: make(map[string]*credentialGroup),
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "Coordinator").Logger(),
		bus:    bus,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Register attaches a bot to a credential group, creating the group on
// first use. Registering the same bot twice is a no-op.
func (c *Coordinator) Register(botID, credentialID string) {
	c.mu.Lock()
	g, ok := c.groups[credentialID]
	if !ok {
		now := c.now()
		g = &credentialGroup{
			id:          credentialID,
			bots:        make(map[string]struct{}),
			minuteStart: now,
			hourStart:   now,
		}
		c.groups[credentialID] = g
	}
	c.mu.Unlock()

	g.mu.Lock()
	g.bots[botID] = struct{}{}
	flipped, enabled := c.reevaluateEmergency(g)
	botCount := len(g.bots)
	g.mu.Unlock()

	c.logger.Info().
		Str("bot_id", botID).
		Str("credential_id", credentialID).
		Int("bot_count", botCount).
		Msg("Bot registered")

	if flipped {
		c.publishEmergencyFlip(credentialID, enabled, botCount, "bot count threshold")
	}
}

// Unregister detaches a bot. The group is destroyed once its bot set
// empties; anything still queued is rejected.
func (c *Coordinator) Unregister(botID, credentialID string) {
	c.mu.Lock()
	g, ok := c.groups[credentialID]
	if !ok {
		c.mu.Unlock()
		return
	}

	g.mu.Lock()
	delete(g.bots, botID)
	empty := len(g.bots) == 0
	if empty {
		delete(c.groups, credentialID)
	}
	c.mu.Unlock()

	var drained []*queuedRequest
	flipped, enabled := false, false
	if empty {
		drained = g.queue
		g.queue = nil
	} else {
		flipped, enabled = c.reevaluateEmergency(g)
	}
	botCount := len(g.bots)
	g.mu.Unlock()

	for _, req := range drained {
		req.result.reject(ErrGroupClosed)
	}

	c.logger.Info().
		Str("bot_id", botID).
		Str("credential_id", credentialID).
		Int("bot_count", botCount).
		Bool("group_removed", empty).
		Msg("Bot unregistered")

	if flipped {
		c.publishEmergencyFlip(credentialID, enabled, botCount, "bot count threshold")
	}
}

// reevaluateEmergency applies bot-count hysteresis. Caller holds g.mu.
func (c *Coordinator) reevaluateEmergency(g *credentialGroup) (flipped, enabled bool) {
	n := len(g.bots)
	if !g.emergency && n >= c.cfg.EmergencyEnableBots {
		g.emergency = true
		return true, true
	}
	if g.emergency && n < c.cfg.EmergencyDisableBots {
		g.emergency = false
		return true, false
	}
	return false, false
}

func (c *Coordinator) publishEmergencyFlip(credentialID string, enabled bool, botCount int, reason string) {
	c.logger.Warn().
		Str("credential_id", credentialID).
		Bool("enabled", enabled).
		Int("bot_count", botCount).
		Str("reason", reason).
		Msg("Emergency mode changed")
	if c.bus != nil {
		c.bus.PublishEmergencyMode(credentialID, enabled, botCount, reason)
	}
}

// Enqueue queues a broker operation for a registered bot and returns a
// handle resolved when the operation completes or is abandoned. The group's
// processing loop is started if idle.
func (c *Coordinator) Enqueue(botID, credentialID string, reqType RequestType, priority int, endpoint string, op broker.Operation) (*Result, error) {
	c.mu.RLock()
	g, ok := c.groups[credentialID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrBotNotRegistered
	}

	g.mu.Lock()
	if _, registered := g.bots[botID]; !registered {
		g.mu.Unlock()
		return nil, ErrBotNotRegistered
	}

	g.seq++
	req := &queuedRequest{
		botID:      botID,
		reqType:    reqType,
		priority:   priority,
		endpoint:   endpoint,
		op:         op,
		result:     newResult(),
		enqueuedAt: c.now(),
		seq:        g.seq,
	}
	g.queue = insertByPriority(g.queue, req)

	start := !g.processing
	if start {
		g.processing = true
	}
	g.mu.Unlock()

	if start {
		go c.processLoop(g)
	}
	return req.result, nil
}

// processLoop drains one credential group's queue. Exactly one loop runs
// per group, guarded by the processing flag. Suspension points: cool-down,
// window quota, minimum spacing, post-request delay, and the broker call.
func (c *Coordinator) processLoop(g *credentialGroup) {
	for {
		g.mu.Lock()
		now := c.now()

		if now.Before(g.cooldownUntil) {
			wait := g.cooldownUntil.Sub(now)
			g.mu.Unlock()
			c.sleep(wait)
			continue
		}

		if now.Sub(g.minuteStart) >= time.Minute {
			g.requestCount = 0
			g.minuteStart = now
		}
		if now.Sub(g.hourStart) >= time.Hour {
			g.rateLimitHits = 0
			g.hourStart = now
		}

		if len(g.queue) == 0 {
			g.processing = false
			g.mu.Unlock()
			return
		}

		botCount := len(g.bots)
		emergency := g.emergency

		if g.requestCount >= maxRequestsPerMinute(botCount, emergency) {
			wait := g.minuteStart.Add(time.Minute).Sub(now)
			g.mu.Unlock()
			if wait > 0 {
				c.sleep(wait)
			}
			continue
		}

		if interval := minInterval(botCount, emergency); !g.lastRequest.IsZero() {
			if elapsed := now.Sub(g.lastRequest); elapsed < interval {
				g.mu.Unlock()
				c.sleep(interval - elapsed)
				continue
			}
		}

		req := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		value, err := req.op(context.Background())
		switch {
		case err == nil:
			g.mu.Lock()
			g.lastRequest = c.now()
			g.requestCount++
			g.mu.Unlock()
			req.result.resolve(value)
			c.sleep(postRequestDelay(botCount, c.cfg.PostRequestBase, c.cfg.PostRequestPerBot))

		case broker.IsRateLimit(err):
			req.result.reject(err)
			c.handleRateLimit(g, err)

		default:
			// Transient failure: only the failing request is rejected.
			req.result.reject(err)
		}
	}
}

// handleRateLimit applies the destructive backpressure policy: every queued
// request for the group is rejected immediately rather than retried, the
// group enters a cool-down scaled by bot count, and repeated hits within an
// hour flip emergency mode on.
func (c *Coordinator) handleRateLimit(g *credentialGroup, cause error) {
	g.mu.Lock()
	drained := g.queue
	g.queue = nil

	botCount := len(g.bots)
	cooldown := rateLimitCooldown(botCount)
	g.cooldownUntil = c.now().Add(cooldown)
	g.requestCount = 0
	g.minuteStart = c.now()
	g.lastRequest = time.Time{}

	g.rateLimitHits++
	escalated := false
	if !g.emergency && g.rateLimitHits >= c.cfg.RateLimitHitsForEmergency {
		g.emergency = true
		escalated = true
	}
	hits := g.rateLimitHits
	g.mu.Unlock()

	for _, queued := range drained {
		queued.result.reject(ErrQueueDrained)
	}

	c.logger.Error().
		Err(cause).
		Str("credential_id", g.id).
		Int("rejected_queued", len(drained)).
		Int("rate_limit_hits", hits).
		Dur("cooldown", cooldown).
		Msg("Rate limit hit, queue drained")

	if c.bus != nil {
		c.bus.PublishRateLimitHit(g.id, len(drained), cooldown)
	}
	if escalated {
		c.publishEmergencyFlip(g.id, true, botCount, "repeated rate limit hits")
	}
}

// GroupStatus is a point-in-time snapshot of one credential group.
type GroupStatus struct {
	CredentialID       string        `json:"credential_id"`
	BotCount           int           `json:"bot_count"`
	QueueDepth         int           `json:"queue_depth"`
	RequestsThisMinute int           `json:"requests_this_minute"`
	MaxPerMinute       int           `json:"max_per_minute"`
	MinInterval        time.Duration `json:"min_interval_ns"`
	RateLimitHits      int           `json:"rate_limit_hits"`
	EmergencyMode      bool          `json:"emergency_mode"`
	CooldownRemaining  time.Duration `json:"cooldown_remaining_ns"`
	Processing         bool          `json:"processing"`
	QueuedEndpoints    []string      `json:"queued_endpoints,omitempty"`
}

// Status reports a snapshot of every credential group.
type Status struct {
	Groups      []GroupStatus `json:"groups"`
	TotalBots   int           `json:"total_bots"`
	TotalQueued int           `json:"total_queued"`
}

// Status returns a read-only snapshot of all groups.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	groups := make([]*credentialGroup, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.RUnlock()

	var status Status
	now := c.now()
	for _, g := range groups {
		g.mu.Lock()
		cooldown := time.Duration(0)
		if g.cooldownUntil.After(now) {
			cooldown = g.cooldownUntil.Sub(now)
		}
		gs := GroupStatus{
			CredentialID:       g.id,
			BotCount:           len(g.bots),
			QueueDepth:         len(g.queue),
			RequestsThisMinute: g.requestCount,
			MaxPerMinute:       maxRequestsPerMinute(len(g.bots), g.emergency),
			MinInterval:        minInterval(len(g.bots), g.emergency),
			RateLimitHits:      g.rateLimitHits,
			EmergencyMode:      g.emergency,
			CooldownRemaining:  cooldown,
			Processing:         g.processing,
		}
		for _, req := range g.queue {
			gs.QueuedEndpoints = append(gs.QueuedEndpoints, req.endpoint)
		}
		g.mu.Unlock()

		status.Groups = append(status.Groups, gs)
		status.TotalBots += gs.BotCount
		status.TotalQueued += gs.QueueDepth
	}
	return status
}

// Recommendation is an operator advisory for one credential.
type Recommendation struct {
	CredentialID string `json:"credential_id"`
	BotCount     int    `json:"bot_count"`
	Tier         string `json:"tier"`
	Advice       string `json:"advice"`
}

// Recommendations returns a crowding advisory per credential group.
func (c *Coordinator) Recommendations() []Recommendation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := make([]Recommendation, 0, len(c.groups))
	for id, g := range c.groups {
		g.mu.Lock()
		n := len(g.bots)
		g.mu.Unlock()

		tier := advisoryTier(n)
		recs = append(recs, Recommendation{
			CredentialID: id,
			BotCount:     n,
			Tier:         tier,
			Advice:       advisoryText(tier),
		})
	}
	return recs
}
