package governor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/broker"
	"trade-coordinator/internal/events"
)

// The governor is the last line of defense before the broker: every call in
// the process funnels through one bounded queue with one global spacing and
// per-minute/per-hour caps, regardless of how the per-credential coordinator
// already throttled it. It fails fast instead of buffering: a full queue or
// an exhausted hourly quota rejects immediately.

// Errors returned to submitters.
var (
	ErrQueueFull      = errors.New("governor queue is full")
	ErrHourlyQuota    = errors.New("governor hourly quota exhausted")
	ErrCoolingDown    = errors.New("governor is cooling down after a rate limit")
	ErrDrained        = errors.New("request rejected: governor drained its queue after a rate limit")
	ErrSubmitTimeout  = errors.New("timed out waiting for governor result")
	ErrGovernorClosed = errors.New("governor is shut down")
)

// Config holds governor tuning. Zero values get defaults.
type Config struct {
	QueueCapacity  int           // bounded queue size, submissions beyond it are rejected
	MinSpacing     time.Duration // global minimum gap between any two broker calls
	MaxPerMinute   int
	MaxPerHour     int
	CooldownPeriod time.Duration // fixed cool-down after a rate-limit error
}

// DefaultConfig returns production tuning.
func DefaultConfig() *Config {
	return &Config{
		QueueCapacity:  200,
		MinSpacing:     250 * time.Millisecond,
		MaxPerMinute:   60,
		MaxPerHour:     1200,
		CooldownPeriod: 2 * time.Minute,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.QueueCapacity == 0 {
		out.QueueCapacity = def.QueueCapacity
	}
	if out.MinSpacing == 0 {
		out.MinSpacing = def.MinSpacing
	}
	if out.MaxPerMinute == 0 {
		out.MaxPerMinute = def.MaxPerMinute
	}
	if out.MaxPerHour == 0 {
		out.MaxPerHour = def.MaxPerHour
	}
	if out.CooldownPeriod == 0 {
		out.CooldownPeriod = def.CooldownPeriod
	}
	return &out
}

type outcome struct {
	value interface{}
	err   error
}

// Result is a oneshot handle for a submitted operation.
type Result struct {
	ch chan outcome
}

func newResult() *Result {
	return &Result{ch: make(chan outcome, 1)}
}

func (r *Result) resolve(v interface{}) { r.ch <- outcome{value: v} }
func (r *Result) reject(err error)      { r.ch <- outcome{err: err} }

// Wait blocks until the operation completes or ctx is done.
func (r *Result) Wait(ctx context.Context) (interface{}, error) {
	select {
	case out := <-r.ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pending struct {
	op       broker.Operation
	endpoint string
	priority int
	result   *Result
}

// Governor is the process-wide single-flight rate governor.
type Governor struct {
	mu         sync.Mutex
	queue      []*pending
	processing bool
	closed     bool

	minuteCount int
	minuteStart time.Time
	hourCount   int
	hourStart   time.Time
	lastRequest time.Time

	consecutiveFailures int
	cooldownUntil       time.Time

	cfg    *Config
	logger zerolog.Logger
	bus    *events.Bus

	// Injected in tests for deterministic time.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a governor. bus may be nil.
func New(cfg *Config, logger zerolog.Logger, bus *events.Bus) *Governor {
	now := time.Now()
	return &Governor{
		cfg:         cfg.withDefaults(),
		logger:      logger.With().Str("component", "Governor").Logger(),
		bus:         bus,
		minuteStart: now,
		hourStart:   now,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Submit queues an operation behind the global caps. Rejection is
// synchronous and immediate when the queue is full, the hourly quota is
// spent, or a cool-down is active: buffering work that cannot run soon
// would only add latency on top of backpressure.
func (g *Governor) Submit(op broker.Operation, endpoint string, priority int) (*Result, error) {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return nil, ErrGovernorClosed
	}

	now := g.now()
	g.resetWindowsLocked(now)

	if now.Before(g.cooldownUntil) {
		g.mu.Unlock()
		return nil, ErrCoolingDown
	}
	if len(g.queue) >= g.cfg.QueueCapacity {
		g.mu.Unlock()
		return nil, ErrQueueFull
	}
	if g.hourCount+len(g.queue) >= g.cfg.MaxPerHour {
		g.mu.Unlock()
		return nil, ErrHourlyQuota
	}

	p := &pending{op: op, endpoint: endpoint, priority: priority, result: newResult()}
	g.queue = append(g.queue, p)

	start := !g.processing
	if start {
		g.processing = true
	}
	g.mu.Unlock()

	if start {
		go g.processLoop()
	}
	return p.result, nil
}

// SubmitWithTimeout races the submitted operation against a timeout. On
// timeout the caller gets ErrSubmitTimeout but the underlying broker call is
// not cancelled, so the caller must not assume it did not happen.
func (g *Governor) SubmitWithTimeout(op broker.Operation, timeout time.Duration, endpoint string, priority int) (interface{}, error) {
	result, err := g.Submit(op, endpoint, priority)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	value, err := result.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrSubmitTimeout
	}
	return value, err
}

// resetWindowsLocked rolls the minute/hour counters. Caller holds g.mu.
func (g *Governor) resetWindowsLocked(now time.Time) {
	if now.Sub(g.minuteStart) >= time.Minute {
		g.minuteCount = 0
		g.minuteStart = now
	}
	if now.Sub(g.hourStart) >= time.Hour {
		g.hourCount = 0
		g.hourStart = now
	}
}

// processLoop serializes every broker call in the process. One loop at a
// time, guarded by the processing flag.
func (g *Governor) processLoop() {
	for {
		g.mu.Lock()
		now := g.now()
		g.resetWindowsLocked(now)

		if now.Before(g.cooldownUntil) {
			wait := g.cooldownUntil.Sub(now)
			g.mu.Unlock()
			g.sleep(wait)
			continue
		}

		if len(g.queue) == 0 {
			g.processing = false
			g.mu.Unlock()
			return
		}

		if g.minuteCount >= g.cfg.MaxPerMinute {
			wait := g.minuteStart.Add(time.Minute).Sub(now)
			g.mu.Unlock()
			if wait > 0 {
				g.sleep(wait)
			}
			continue
		}

		if !g.lastRequest.IsZero() {
			if elapsed := now.Sub(g.lastRequest); elapsed < g.cfg.MinSpacing {
				g.mu.Unlock()
				g.sleep(g.cfg.MinSpacing - elapsed)
				continue
			}
		}

		p := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		value, err := p.op(context.Background())
		switch {
		case err == nil:
			g.mu.Lock()
			g.lastRequest = g.now()
			g.minuteCount++
			g.hourCount++
			g.consecutiveFailures = 0
			g.mu.Unlock()
			p.result.resolve(value)

		case broker.IsRateLimit(err):
			p.result.reject(err)
			g.handleRateLimit(err)

		default:
			g.mu.Lock()
			g.consecutiveFailures++
			g.mu.Unlock()
			p.result.reject(err)
		}
	}
}

// handleRateLimit clears the whole queue and imposes the fixed cool-down.
// No selective retry: a broker that is already pushing back gets silence,
// not a thundering herd.
func (g *Governor) handleRateLimit(cause error) {
	g.mu.Lock()
	drained := g.queue
	g.queue = nil
	g.consecutiveFailures++
	g.cooldownUntil = g.now().Add(g.cfg.CooldownPeriod)
	g.minuteCount = 0
	g.minuteStart = g.now()
	failures := g.consecutiveFailures
	g.mu.Unlock()

	for _, p := range drained {
		p.result.reject(ErrDrained)
	}

	g.logger.Error().
		Err(cause).
		Int("rejected_queued", len(drained)).
		Int("consecutive_failures", failures).
		Dur("cooldown", g.cfg.CooldownPeriod).
		Msg("Global rate limit hit, queue cleared")

	if g.bus != nil {
		g.bus.Publish(events.Event{
			Type: events.EventGovernorCooldown,
			Data: map[string]interface{}{
				"rejected_queued":  len(drained),
				"cooldown_seconds": int(g.cfg.CooldownPeriod.Seconds()),
			},
		})
	}
}

// Close rejects all pending work and refuses new submissions.
func (g *Governor) Close() {
	g.mu.Lock()
	g.closed = true
	drained := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, p := range drained {
		p.result.reject(ErrGovernorClosed)
	}
}

// Status is a read-only snapshot of the governor's state.
func (g *Governor) Status() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cooldown := time.Duration(0)
	if g.cooldownUntil.After(now) {
		cooldown = g.cooldownUntil.Sub(now)
	}

	return map[string]interface{}{
		"queue_depth":          len(g.queue),
		"queue_capacity":       g.cfg.QueueCapacity,
		"requests_this_minute": g.minuteCount,
		"max_per_minute":       g.cfg.MaxPerMinute,
		"requests_this_hour":   g.hourCount,
		"max_per_hour":         g.cfg.MaxPerHour,
		"consecutive_failures": g.consecutiveFailures,
		"cooldown_remaining_s": int(cooldown.Seconds()),
		"processing":           g.processing,
	}
}
