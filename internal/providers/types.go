package providers

import (
	"context"

	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/id"
	"github.com/ggonzalez94/route-executor/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

type RouteOrder string

const (
	RouteOrderCheapest RouteOrder = "CHEAPEST"
	RouteOrderFastest  RouteOrder = "FASTEST"
)

type RoutesRequest struct {
	FromChain        id.Chain
	ToChain          id.Chain
	FromAsset        id.Asset
	ToAsset          id.Asset
	AmountBaseUnits  string
	AmountDecimal    string
	FromAddress      string
	ToAddress        string
	SlippageBps      int64
	Order            RouteOrder
	FromAmountForGas string
}

// RoutePlanner finds candidate routes for a transfer. Routes come back
// without execution state and are ready to hand to the engine.
type RoutePlanner interface {
	Provider
	GetRoutes(ctx context.Context, req RoutesRequest) ([]execution.Route, error)
}

// RoutingProvider is everything the CLI needs from one routing backend.
type RoutingProvider interface {
	RoutePlanner
	execution.RoutingAPI
	execution.ChainResolver
}
