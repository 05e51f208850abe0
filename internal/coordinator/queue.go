package coordinator

import (
	"context"
	"errors"
	"time"

	"trade-coordinator/internal/broker"
)

// RequestType classifies queued broker work. Session management always runs
// before trading, trading before account reads, account reads before market
// data refreshes.
type RequestType string

const (
	RequestSession    RequestType = "session"
	RequestTrade      RequestType = "trade"
	RequestAccount    RequestType = "account"
	RequestMarketData RequestType = "market_data"
)

// typeWeight returns the ordering weight for a request type. Lower runs first.
func typeWeight(t RequestType) int {
	switch t {
	case RequestSession:
		return 0
	case RequestTrade:
		return 10
	case RequestAccount:
		return 20
	case RequestMarketData:
		return 30
	default:
		return 40
	}
}

// Errors surfaced to waiting callers.
var (
	ErrBotNotRegistered = errors.New("bot is not registered with this credential")
	ErrQueueDrained     = errors.New("request rejected: credential hit a rate limit and its queue was drained")
	ErrResultTimeout    = errors.New("timed out waiting for request result")
)

type outcome struct {
	value interface{}
	err   error
}

// Result is a oneshot handle for a queued request. It is resolved exactly
// once, either with the operation's return value or with an error.
type Result struct {
	ch chan outcome
}

func newResult() *Result {
	return &Result{ch: make(chan outcome, 1)}
}

func (r *Result) resolve(value interface{}) {
	r.ch <- outcome{value: value}
}

func (r *Result) reject(err error) {
	r.ch <- outcome{err: err}
}

// Wait blocks until the request completes or ctx is done. A ctx timeout does
// not cancel the underlying broker call; the caller must not assume the
// operation did not happen.
func (r *Result) Wait(ctx context.Context) (interface{}, error) {
	select {
	case out := <-r.ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queuedRequest is one entry in a credential group's queue.
type queuedRequest struct {
	botID      string
	reqType    RequestType
	priority   int
	endpoint   string
	op         broker.Operation
	result     *Result
	enqueuedAt time.Time
	seq        uint64 // arrival order, breaks ordering ties
}

// effectivePriority is the combined ordering key: type weight plus the
// caller-supplied priority. Ties fall back to arrival order.
func (q *queuedRequest) effectivePriority() int {
	return typeWeight(q.reqType) + q.priority
}

// insertByPriority places req into queue keeping ascending effectivePriority
// order, FIFO among equals. Linear scan; credential queues stay short.
func insertByPriority(queue []*queuedRequest, req *queuedRequest) []*queuedRequest {
	idx := len(queue)
	for i, existing := range queue {
		if req.effectivePriority() < existing.effectivePriority() {
			idx = i
			break
		}
	}
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = req
	return queue
}
