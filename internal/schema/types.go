package schema

// Candle is one OHLCV sample for a (timeframe, asset) pair. A zero-valued
// candle means "no unconsumed data" in the shared table.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// IsZero reports whether every field is zero.
func (c Candle) IsZero() bool {
	return c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0 && c.Volume == 0
}

// Market describes the traded market category.
type Market uint16

const (
	MarketUnknown Market = iota
	MarketSpot
	MarketFuture
	MarketFutureInverse
	MarketOption
)

// AccountItemKind tags account-state payloads during the handshake.
type AccountItemKind uint16

const (
	AccountItemUnknown AccountItemKind = iota
	AccountItemBalance
	AccountItemFunding
	AccountItemPosition
	AccountItemOrder
)

// FillStatus is the terminal outcome of an order reported by the venue.
type FillStatus uint16

const (
	FillStatusUnknown FillStatus = iota
	FillStatusExecuted
	FillStatusRejected
	FillStatusCancelled
)

func (s FillStatus) String() string {
	switch s {
	case FillStatusExecuted:
		return "executed"
	case FillStatusRejected:
		return "rejected"
	case FillStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OpSide records the cash-flow direction of a ledger row.
type OpSide uint16

const (
	OpSideUnknown OpSide = iota
	OpSideBuy
	OpSideSell
)

// Asset describes a tradable instrument.
type Asset struct {
	Market         Market
	Symbol         string
	Ticker         string
	BaseTicker     string
	Trading        bool
	MinOrderAmount float64
	MaxOrderAmount float64
	ValueStep      float64
	PriceStep      float64
	TickSize       float64
}

// Balance is a spot asset balance; Locked is the part reserved by open orders.
type Balance struct {
	Ticker string
	Value  float64
	Locked float64
}

// FundingBalance is a funding-account balance.
type FundingBalance struct {
	Ticker    string
	Balance   float64
	Available float64
}

// Position is one open position. Value and BaseValue always share a sign:
// positive for long, negative for short.
type Position struct {
	Market      Market
	Ticker      string
	Value       float64
	BaseValue   float64
	OpenPrice   float64
	Leverage    int
	RealizedPnL float64
	CreatedTS   int64
}

// OpenOrder is a resting order reported during the account-state phase.
type OpenOrder struct {
	ID           string
	Ticker       string
	Value        float64
	ExecValue    float64
	OpenPrice    float64
	AvgExecPrice float64
	ExecFee      float64
	StopLoss     float64
	TakeProfit   float64
}

// Fill is a terminal order report: an executed transaction, or a
// rejected/cancelled one distinguished by Status.
type Fill struct {
	OrderID   string
	Market    Market
	Ticker    string
	Value     float64
	BaseValue float64
	Price     float64
	Fee       float64
	TS        int64
	Status    FillStatus
	Reason    string
}

// Side derives the ledger operation side from the fill's signed value.
func (f Fill) Side() OpSide {
	if f.Value < 0 {
		return OpSideSell
	}
	return OpSideBuy
}

// OrderRequest is the decision engine's output: a bounded, immutable request
// for the execution collaborator. Zero-valued optional fields mean "not set".
type OrderRequest struct {
	Market           Market
	Ticker           string
	Value            float64 // > 0 buy, < 0 sell
	Price            float64 // 0 = market order
	Slippage         float64 // max relative adverse deviation
	StopLoss         float64
	TakeProfit       float64
	TrailingProfit   float64 // price level activating the trailing stop
	TrailingDistance float64 // active trailing distance to market price
	LifetimeMin      int
}

// Trade is one settled row appended to the trade ledger. PnL is the realized
// profit the fill produced, fees included; the risk gate's equity curve is
// the running sum of this column.
type Trade struct {
	TS     int64
	Market Market
	Ticker string
	Value  float64
	Price  float64
	Side   OpSide
	Fee    float64
	PnL    float64
}
