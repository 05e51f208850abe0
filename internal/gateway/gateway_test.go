package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/broker"
	"trade-coordinator/internal/coordinator"
	"trade-coordinator/internal/events"
	"trade-coordinator/internal/governor"
)

func newTestGateway(client broker.Client) (*Gateway, *coordinator.Coordinator, *governor.Governor) {
	bus := events.NewBus()
	coord := coordinator.New(&coordinator.Config{
		PostRequestBase:   time.Millisecond,
		PostRequestPerBot: time.Millisecond,
	}, zerolog.Nop(), bus)
	gov := governor.New(&governor.Config{
		MinSpacing:   time.Millisecond,
		MaxPerMinute: 100,
		MaxPerHour:   1000,
	}, zerolog.Nop(), bus)
	return New(client, coord, gov, zerolog.Nop()), coord, gov
}

func TestPlaceOrderPassesBothLayers(t *testing.T) {
	client := broker.NewMockClient(10000)
	client.SetPrice("BTCUSDT", 50000)

	gw, coord, gov := newTestGateway(client)
	coord.Register("bot-1", "cred-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := gw.PlaceOrder(ctx, "bot-1", "cred-1", broker.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Quantity:  0.1,
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	if result.AvgPrice != 50000 {
		t.Fatalf("expected fill at 50000, got %v", result.AvgPrice)
	}

	status := gov.Status()
	if status["requests_this_hour"].(int) != 1 {
		t.Fatalf("governor should have counted the call, got %v", status["requests_this_hour"])
	}
}

func TestPriceAndBalanceReads(t *testing.T) {
	client := broker.NewMockClient(2500)
	client.SetPrice("ETHUSDT", 3000)

	gw, coord, _ := newTestGateway(client)
	coord.Register("bot-1", "cred-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	price, err := gw.GetPrice(ctx, "bot-1", "cred-1", "ETHUSDT")
	if err != nil {
		t.Fatalf("get price failed: %v", err)
	}
	if price != 3000 {
		t.Fatalf("expected 3000, got %v", price)
	}
}

func TestRateLimitPropagatesThroughBothLayers(t *testing.T) {
	client := broker.NewMockClient(10000)
	client.SetPrice("BTCUSDT", 50000)
	client.FailNext(&broker.RateLimitError{StatusCode: 429, Message: "Too many requests"})

	gw, coord, gov := newTestGateway(client)
	coord.Register("bot-1", "cred-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := gw.PlaceOrder(ctx, "bot-1", "cred-1", broker.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Quantity:  0.1,
	})
	if !broker.IsRateLimit(err) {
		t.Fatalf("expected a rate-limit error, got %v", err)
	}

	// Both layers must be in cool-down.
	if gov.Status()["cooldown_remaining_s"].(int) <= 0 {
		t.Fatal("governor should be cooling down")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		groups := coord.Status().Groups
		if len(groups) == 1 && groups[0].CooldownRemaining > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("coordinator group should be cooling down")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ctx.Err(); err != nil {
		t.Fatalf("test overran its deadline: %v", err)
	}
}
