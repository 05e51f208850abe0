package broker

import (
	"context"
	"time"
)

// Operation is a deferred broker call. The coordination layer never looks
// inside it; it only schedules it and routes the result back to the caller.
type Operation func(ctx context.Context) (interface{}, error)

// OrderRequest describes an order to place with the broker.
type OrderRequest struct {
	Symbol     string
	Side       string // BUY or SELL
	OrderType  string // MARKET, LIMIT, STOP
	Quantity   float64
	Price      float64 // limit price, 0 for market orders
	StopPrice  float64
	ReduceOnly bool
}

// OrderResult is what the broker reports back for a placed order.
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
	Commission    float64
	TransactTime  time.Time
}

// PositionInfo is a broker-side view of an open position.
type PositionInfo struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
}

// Client is the narrow broker surface the coordination layer depends on.
// Implementations wrap a real exchange API; tests use MockClient. A failed
// call may return *RateLimitError, which receives special treatment
// everywhere above this interface.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetAccountBalance(ctx context.Context) (float64, error)
}
