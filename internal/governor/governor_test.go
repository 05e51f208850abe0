package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/broker"
)

// fakeClock makes the governor's waits instantaneous: Sleep advances
// virtual time instead of blocking.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGovernor(cfg *Config) (*Governor, *fakeClock) {
	clock := newFakeClock()
	g := New(cfg, zerolog.Nop(), nil)
	g.now = clock.Now
	g.sleep = clock.Sleep
	g.minuteStart = clock.Now()
	g.hourStart = clock.Now()
	return g, clock
}

func okOp(v interface{}) broker.Operation {
	return func(ctx context.Context) (interface{}, error) {
		return v, nil
	}
}

// waitInFlight polls until the loop has dequeued everything submitted so
// far, i.e. the gate op is executing and the queue is empty.
func waitQueueDepth(t *testing.T, g *Governor, depth int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.Status()["queue_depth"].(int) == depth {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue depth never reached %d", depth)
}

// ============================================================
// Fail-fast admission
// ============================================================

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	g, _ := newTestGovernor(&Config{QueueCapacity: 2, MinSpacing: time.Millisecond})

	gate := make(chan struct{})
	gateOp := func(ctx context.Context) (interface{}, error) {
		<-gate
		return "gate", nil
	}

	gateRes, err := g.Submit(gateOp, "market", 0)
	if err != nil {
		t.Fatalf("gate submit failed: %v", err)
	}
	waitQueueDepth(t, g, 0)

	r1, err := g.Submit(okOp(1), "market", 0)
	if err != nil {
		t.Fatalf("submit 1 failed: %v", err)
	}
	r2, err := g.Submit(okOp(2), "market", 0)
	if err != nil {
		t.Fatalf("submit 2 failed: %v", err)
	}

	if _, err := g.Submit(okOp(3), "market", 0); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(gate)
	ctx := context.Background()
	for _, r := range []*Result{gateRes, r1, r2} {
		if _, err := r.Wait(ctx); err != nil {
			t.Fatalf("queued op failed: %v", err)
		}
	}
}

func TestSubmitRejectsWhenHourlyQuotaSpent(t *testing.T) {
	g, _ := newTestGovernor(&Config{MaxPerHour: 3, MinSpacing: time.Millisecond})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := g.Submit(okOp(i), "market", 0)
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		if _, err := res.Wait(ctx); err != nil {
			t.Fatalf("op %d failed: %v", i, err)
		}
	}

	if _, err := g.Submit(okOp(99), "market", 0); !errors.Is(err, ErrHourlyQuota) {
		t.Fatalf("expected ErrHourlyQuota, got %v", err)
	}
}

func TestSubmitRejectsDuringCooldown(t *testing.T) {
	g, clock := newTestGovernor(nil)

	g.mu.Lock()
	g.cooldownUntil = clock.Now().Add(time.Minute)
	g.mu.Unlock()

	if _, err := g.Submit(okOp(1), "market", 0); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown, got %v", err)
	}
}

// ============================================================
// Single flight and window caps
// ============================================================

func TestSingleFlight(t *testing.T) {
	g, _ := newTestGovernor(&Config{MinSpacing: time.Millisecond, MaxPerMinute: 100, MaxPerHour: 1000})

	var inFlight, maxSeen int64
	op := func(ctx context.Context) (interface{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil, nil
	}

	var results []*Result
	for i := 0; i < 25; i++ {
		res, err := g.Submit(op, "market", 0)
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		results = append(results, res)
	}

	ctx := context.Background()
	for _, r := range results {
		if _, err := r.Wait(ctx); err != nil {
			t.Fatalf("op failed: %v", err)
		}
	}

	if atomic.LoadInt64(&maxSeen) != 1 {
		t.Fatalf("expected at most 1 in flight, saw %d", maxSeen)
	}
}

func TestMinuteCapDefersToNextWindow(t *testing.T) {
	g, clock := newTestGovernor(&Config{MaxPerMinute: 2, MaxPerHour: 100, MinSpacing: time.Millisecond})

	var mu sync.Mutex
	var ranAt []time.Time
	op := func(ctx context.Context) (interface{}, error) {
		mu.Lock()
		ranAt = append(ranAt, clock.Now())
		mu.Unlock()
		return nil, nil
	}

	var results []*Result
	for i := 0; i < 3; i++ {
		res, err := g.Submit(op, "market", 0)
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		results = append(results, res)
	}

	ctx := context.Background()
	for _, r := range results {
		if _, err := r.Wait(ctx); err != nil {
			t.Fatalf("op failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ranAt) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(ranAt))
	}
	gap := ranAt[2].Sub(ranAt[0])
	if gap < 59*time.Second {
		t.Fatalf("third request should wait for the next minute window, ran after %v", gap)
	}
}

// ============================================================
// Rate-limit drain and cool-down
// ============================================================

func TestRateLimitDrainsQueueAndCoolsDown(t *testing.T) {
	cooldown := 90 * time.Second
	g, clock := newTestGovernor(&Config{
		QueueCapacity:  20,
		MinSpacing:     time.Millisecond,
		MaxPerMinute:   100,
		MaxPerHour:     1000,
		CooldownPeriod: cooldown,
	})

	gate := make(chan struct{})
	gateOp := func(ctx context.Context) (interface{}, error) {
		<-gate
		return "gate", nil
	}
	limitedOp := func(ctx context.Context) (interface{}, error) {
		return nil, &broker.RateLimitError{StatusCode: 429, Message: "Too many requests"}
	}

	gateRes, err := g.Submit(gateOp, "market", 0)
	if err != nil {
		t.Fatalf("gate submit failed: %v", err)
	}
	waitQueueDepth(t, g, 0)

	limitedRes, err := g.Submit(limitedOp, "order", 0)
	if err != nil {
		t.Fatalf("limited submit failed: %v", err)
	}

	var queued []*Result
	for i := 0; i < 4; i++ {
		res, err := g.Submit(okOp(i), fmt.Sprintf("endpoint-%d", i), 0)
		if err != nil {
			t.Fatalf("queued submit %d failed: %v", i, err)
		}
		queued = append(queued, res)
	}

	drainStart := clock.Now()
	close(gate)

	ctx := context.Background()
	if _, err := gateRes.Wait(ctx); err != nil {
		t.Fatalf("gate op should succeed: %v", err)
	}

	if _, err := limitedRes.Wait(ctx); !broker.IsRateLimit(err) {
		t.Fatalf("limited op should return the rate-limit error, got %v", err)
	}

	for i, r := range queued {
		if _, err := r.Wait(ctx); !errors.Is(err, ErrDrained) {
			t.Fatalf("queued op %d: expected ErrDrained, got %v", i, err)
		}
	}

	if got := g.Status()["consecutive_failures"].(int); got != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", got)
	}

	var ranAt time.Time
	afterRes, err := g.Submit(func(ctx context.Context) (interface{}, error) {
		ranAt = clock.Now()
		return "after", nil
	}, "market", 0)
	if err != nil {
		// The loop may not have slept past the cool-down yet.
		if !errors.Is(err, ErrCoolingDown) {
			t.Fatalf("post-drain submit failed: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			afterRes, err = g.Submit(func(ctx context.Context) (interface{}, error) {
				ranAt = clock.Now()
				return "after", nil
			}, "market", 0)
			if err == nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if err != nil {
			t.Fatalf("submit never accepted after cool-down: %v", err)
		}
	}
	if _, err := afterRes.Wait(ctx); err != nil {
		t.Fatalf("post-cooldown op failed: %v", err)
	}

	if elapsed := ranAt.Sub(drainStart); elapsed < cooldown {
		t.Fatalf("request ran %v after the rate limit, cool-down is %v", elapsed, cooldown)
	}

	if got := g.Status()["consecutive_failures"].(int); got != 0 {
		t.Fatalf("success should reset consecutive failures, got %d", got)
	}
}

func TestTransientFailuresCountConsecutively(t *testing.T) {
	g, _ := newTestGovernor(&Config{MinSpacing: time.Millisecond, MaxPerMinute: 100, MaxPerHour: 1000})

	boom := errors.New("insufficient balance")
	failOp := func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := g.Submit(failOp, "order", 0)
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		if _, err := res.Wait(ctx); !errors.Is(err, boom) {
			t.Fatalf("expected op error back, got %v", err)
		}
	}

	if got := g.Status()["consecutive_failures"].(int); got != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", got)
	}

	res, err := g.Submit(okOp("ok"), "market", 0)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := res.Wait(ctx); err != nil {
		t.Fatalf("op failed: %v", err)
	}
	if got := g.Status()["consecutive_failures"].(int); got != 0 {
		t.Fatalf("success should reset the counter, got %d", got)
	}
}

// ============================================================
// Timeouts and shutdown
// ============================================================

func TestSubmitWithTimeout(t *testing.T) {
	g, _ := newTestGovernor(&Config{MinSpacing: time.Millisecond, MaxPerMinute: 100, MaxPerHour: 1000})

	started := make(chan struct{})
	finished := make(chan struct{})
	slowOp := func(ctx context.Context) (interface{}, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return "slow", nil
	}

	_, err := g.SubmitWithTimeout(slowOp, 5*time.Millisecond, "market", 0)
	if !errors.Is(err, ErrSubmitTimeout) {
		t.Fatalf("expected ErrSubmitTimeout, got %v", err)
	}

	// The underlying call keeps running after the caller gave up.
	<-started
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("underlying op should run to completion despite the timeout")
	}
}

func TestCloseRejectsPendingAndNewWork(t *testing.T) {
	g, _ := newTestGovernor(&Config{MinSpacing: time.Millisecond})

	gate := make(chan struct{})
	defer close(gate)
	gateOp := func(ctx context.Context) (interface{}, error) {
		<-gate
		return nil, nil
	}

	if _, err := g.Submit(gateOp, "market", 0); err != nil {
		t.Fatalf("gate submit failed: %v", err)
	}
	waitQueueDepth(t, g, 0)

	pending, err := g.Submit(okOp(1), "market", 0)
	if err != nil {
		t.Fatalf("pending submit failed: %v", err)
	}

	g.Close()

	ctx := context.Background()
	if _, err := pending.Wait(ctx); !errors.Is(err, ErrGovernorClosed) {
		t.Fatalf("pending op should be rejected with ErrGovernorClosed, got %v", err)
	}
	if _, err := g.Submit(okOp(2), "market", 0); !errors.Is(err, ErrGovernorClosed) {
		t.Fatalf("submit after close should fail, got %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	g, _ := newTestGovernor(&Config{QueueCapacity: 42, MaxPerMinute: 7, MaxPerHour: 70, MinSpacing: time.Millisecond})

	status := g.Status()
	if status["queue_capacity"].(int) != 42 {
		t.Fatalf("unexpected capacity: %v", status["queue_capacity"])
	}
	if status["max_per_minute"].(int) != 7 {
		t.Fatalf("unexpected minute cap: %v", status["max_per_minute"])
	}
	if status["max_per_hour"].(int) != 70 {
		t.Fatalf("unexpected hour cap: %v", status["max_per_hour"])
	}

	res, err := g.Submit(okOp(nil), "market", 0)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := res.Wait(context.Background()); err != nil {
		t.Fatalf("op failed: %v", err)
	}

	status = g.Status()
	if status["requests_this_hour"].(int) != 1 {
		t.Fatalf("expected 1 request this hour, got %v", status["requests_this_hour"])
	}
}
