// Package connector is the exchange boundary: account queries, order
// placement and market data, specified here as venue-neutral interfaces with
// a bybit implementation alongside. Transient network failures are retried
// inside the connector with bounded attempts; callers see them only after
// the budget runs out.
package connector

import (
	"context"
	"time"

	"tradeagent/internal/schema"
)

// TimedCandle is one historical candle with its open timestamp.
type TimedCandle struct {
	TS     int64
	Candle schema.Candle
}

// Connector covers the REST side of one venue.
type Connector interface {
	// GetAssetInfo resolves trading rules for one symbol.
	GetAssetInfo(ctx context.Context, market schema.Market, symbol string) (schema.Asset, error)
	// GetBalances returns the account's spot balances.
	GetBalances(ctx context.Context) ([]schema.Balance, error)
	// GetFunds returns the funding-wallet balances.
	GetFunds(ctx context.Context) ([]schema.FundingBalance, error)
	// GetPositions returns open derivative positions.
	GetPositions(ctx context.Context) ([]schema.Position, error)
	// GetOrders returns resting orders.
	GetOrders(ctx context.Context, market schema.Market, symbol string) ([]schema.OpenOrder, error)
	// GetPriceHistory streams candles oldest-first through fn, paging until
	// the range is exhausted or fn returns an error.
	GetPriceHistory(ctx context.Context, market schema.Market, symbol string, timeframe int, from, to time.Time, fn func(TimedCandle) error) error
	// PlaceOrder submits one order request and returns the venue order id.
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (string, error)
	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, market schema.Market, symbol, orderID string) error
	// FetchOrderResults polls the given orders until each reaches a terminal
	// status or the attempt budget is spent; non-terminal orders are simply
	// absent from the result.
	FetchOrderResults(ctx context.Context, market schema.Market, symbol string, orderIDs []string) ([]schema.Fill, error)
}

// Stream covers the live market-data side of one venue.
type Stream interface {
	// SubscribeKlines delivers each closed candle for the subscribed
	// timeframes until ctx is cancelled.
	SubscribeKlines(ctx context.Context, symbol string, timeframes []int, fn func(timeframe int, c TimedCandle)) error
}
