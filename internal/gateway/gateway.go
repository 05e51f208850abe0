package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"trade-coordinator/internal/broker"
	"trade-coordinator/internal/coordinator"
	"trade-coordinator/internal/governor"
)

// Gateway is the composition layer between bots and the broker: every
// call is queued on the bot's credential group first, and when the
// coordinator dispatches it the operation passes through the global
// governor before reaching the broker client. One call, two serializers.
type Gateway struct {
	client broker.Client
	coord  *coordinator.Coordinator
	gov    *governor.Governor
	logger zerolog.Logger
}

// New wires a gateway over the shared coordinator and governor.
func New(client broker.Client, coord *coordinator.Coordinator, gov *governor.Governor, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		coord:  coord,
		gov:    gov,
		logger: logger.With().Str("component", "BrokerGateway").Logger(),
	}
}

// governed wraps a broker call in a governor submission. The coordinator
// executes this as its queued operation, so by the time it runs the
// credential-level pacing has already been applied.
func (g *Gateway) governed(endpoint string, priority int, op broker.Operation) broker.Operation {
	return func(ctx context.Context) (interface{}, error) {
		result, err := g.gov.Submit(op, endpoint, priority)
		if err != nil {
			return nil, fmt.Errorf("governor rejected %s: %w", endpoint, err)
		}
		return result.Wait(ctx)
	}
}

func (g *Gateway) run(ctx context.Context, botID, credentialID string, reqType coordinator.RequestType,
	priority int, endpoint string, op broker.Operation) (interface{}, error) {

	result, err := g.coord.Enqueue(botID, credentialID, reqType, priority, endpoint,
		g.governed(endpoint, priority, op))
	if err != nil {
		return nil, err
	}
	return result.Wait(ctx)
}

// PlaceOrder submits an order on the bot's credential.
func (g *Gateway) PlaceOrder(ctx context.Context, botID, credentialID string, req broker.OrderRequest) (*broker.OrderResult, error) {
	value, err := g.run(ctx, botID, credentialID, coordinator.RequestTrade, 0, "order",
		func(ctx context.Context) (interface{}, error) {
			return g.client.PlaceOrder(ctx, req)
		})
	if err != nil {
		return nil, err
	}
	return value.(*broker.OrderResult), nil
}

// CancelOrder cancels an order on the bot's credential.
func (g *Gateway) CancelOrder(ctx context.Context, botID, credentialID, symbol string, orderID int64) error {
	_, err := g.run(ctx, botID, credentialID, coordinator.RequestTrade, 0, "cancel",
		func(ctx context.Context) (interface{}, error) {
			return nil, g.client.CancelOrder(ctx, symbol, orderID)
		})
	return err
}

// GetPrice reads a symbol's last price.
func (g *Gateway) GetPrice(ctx context.Context, botID, credentialID, symbol string) (float64, error) {
	value, err := g.run(ctx, botID, credentialID, coordinator.RequestMarketData, 0, "price",
		func(ctx context.Context) (interface{}, error) {
			return g.client.GetPrice(ctx, symbol)
		})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// GetPositions reads the credential's open positions at the broker.
func (g *Gateway) GetPositions(ctx context.Context, botID, credentialID string) ([]broker.PositionInfo, error) {
	value, err := g.run(ctx, botID, credentialID, coordinator.RequestAccount, 0, "positions",
		func(ctx context.Context) (interface{}, error) {
			return g.client.GetPositions(ctx)
		})
	if err != nil {
		return nil, err
	}
	return value.([]broker.PositionInfo), nil
}

// GetAccountBalance reads the credential's account balance.
func (g *Gateway) GetAccountBalance(ctx context.Context, botID, credentialID string) (float64, error) {
	value, err := g.run(ctx, botID, credentialID, coordinator.RequestAccount, 0, "balance",
		func(ctx context.Context) (interface{}, error) {
			return g.client.GetAccountBalance(ctx)
		})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}
