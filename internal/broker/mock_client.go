package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is an in-memory broker used in tests and dry-run mode. Prices
// are seeded by the caller; orders fill immediately at the seeded price.
// FailNext lets tests inject arbitrary errors, including *RateLimitError.
type MockClient struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions []PositionInfo
	balance   float64
	nextID    int64
	failNext  error
	calls     int
}

// NewMockClient creates a mock broker with a starting balance.
func NewMockClient(balance float64) *MockClient {
	return &MockClient{
		prices:  make(map[string]float64),
		balance: balance,
		nextID:  1000,
	}
}

// SetPrice seeds the mock price for a symbol.
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// FailNext makes the next call return err instead of succeeding.
func (m *MockClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Calls returns how many broker calls were attempted.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) consumeFailure() error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.consumeFailure(); err != nil {
		return nil, err
	}

	price, ok := m.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("no price for symbol %s", req.Symbol)
	}
	if req.OrderType == "LIMIT" && req.Price > 0 {
		price = req.Price
	}

	m.nextID++
	return &OrderResult{
		OrderID:      m.nextID,
		Symbol:       req.Symbol,
		Status:       "FILLED",
		AvgPrice:     price,
		ExecutedQty:  req.Quantity,
		TransactTime: time.Now(),
	}, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.consumeFailure()
}

func (m *MockClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.consumeFailure(); err != nil {
		return 0, err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for symbol %s", symbol)
	}
	return price, nil
}

func (m *MockClient) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.consumeFailure(); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *MockClient) GetAccountBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.consumeFailure(); err != nil {
		return 0, err
	}
	return m.balance, nil
}
