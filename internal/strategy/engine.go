package strategy

import (
	"math"
	"sort"

	"github.com/yanun0323/logs"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

// Config bounds the decision engine. Percentages are fractions (0.02 = 2%).
type Config struct {
	// SignalThreshold is the minimum composite magnitude that triggers a trade.
	SignalThreshold int `yaml:"signal_threshold"`
	// TradeSizeLimit caps one order's quote-currency value.
	TradeSizeLimit float64 `yaml:"trade_size_limit"`
	// PositionSizeLimit caps the combined quote-currency position value when
	// adding to an existing position.
	PositionSizeLimit float64 `yaml:"position_size_limit"`
	// AllowComplex permits adding to a same-side position.
	AllowComplex bool `yaml:"allow_complex"`
	// MinAddMovePct is the minimum relative price move from the open price
	// before adding to a same-side position.
	MinAddMovePct float64 `yaml:"min_add_move_pct"`

	MaxOpenSlippage   float64 `yaml:"max_open_slippage"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	TrailingProfitPct float64 `yaml:"trailing_profit_pct"`
	TrailingStopPct   float64 `yaml:"trailing_stop_pct"`
	OrderLifetimeMin  int     `yaml:"order_lifetime_min"`
}

const defaultMinAddMovePct = 0.01

// Validate fills defaults and rejects nonsense limits.
func (c *Config) Validate() error {
	if c.SignalThreshold <= 0 || c.TradeSizeLimit <= 0 {
		return exception.ErrInvalidArgument
	}
	if c.AllowComplex && c.PositionSizeLimit <= 0 {
		return exception.ErrInvalidArgument
	}
	// a trailing stop needs both the activation level and the distance
	if (c.TrailingProfitPct > 0) != (c.TrailingStopPct > 0) {
		return exception.ErrInvalidArgument
	}
	if c.MinAddMovePct <= 0 {
		c.MinAddMovePct = defaultMinAddMovePct
	}
	return nil
}

// Engine turns per-timeframe analyzer signals into order requests. It is
// owned by the worker's single loop and needs no locking.
type Engine struct {
	cfg   Config
	asset schema.Asset
	book  *PositionBook

	timeframes []uint32
	signals    map[uint32]int
	maxSignal  int

	balances map[string]schema.Balance
}

// NewEngine builds an engine over the subscribed timeframes, ascending order
// assigning the binary weights.
func NewEngine(cfg Config, asset schema.Asset, book *PositionBook, timeframes []uint32) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if book == nil || len(timeframes) == 0 {
		return nil, exception.ErrInvalidArgument
	}
	tfs := append([]uint32(nil), timeframes...)
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	return &Engine{
		cfg:        cfg,
		asset:      asset,
		book:       book,
		timeframes: tfs,
		signals:    make(map[uint32]int, len(tfs)),
		balances:   make(map[string]schema.Balance),
	}, nil
}

// SetBalances replaces the engine's view of available funds.
func (e *Engine) SetBalances(balances []schema.Balance) {
	if e == nil {
		return
	}
	for _, b := range balances {
		e.balances[b.Ticker] = b
	}
}

// Composite returns the current weighted signal sum.
func (e *Engine) Composite() int {
	sum := 0
	for i, tf := range e.timeframes {
		sum += e.signals[tf] * (1 << i)
	}
	return sum
}

// OnSignal records one timeframe's fresh signal and decides whether to trade
// at the given price. The second return is false for every no-trade outcome;
// rejections are logged, never surfaced as errors.
func (e *Engine) OnSignal(timeframe uint32, signal int, price float64) (schema.OrderRequest, bool) {
	if e == nil || price <= 0 {
		return schema.OrderRequest{}, false
	}
	e.signals[timeframe] = signal

	composite := e.Composite()
	if sameSign(composite, e.maxSignal) {
		if abs(composite) > abs(e.maxSignal) {
			e.maxSignal = composite
		}
	} else {
		e.maxSignal = composite
	}

	if composite == 0 || abs(composite) < e.cfg.SignalThreshold {
		return schema.OrderRequest{}, false
	}

	direction := 1.0
	if composite < 0 {
		direction = -1.0
	}

	pos, hasPos := e.book.Find(e.asset.Market, e.asset.Symbol)
	adding := hasPos && !schema.OppositeSign(direction, pos.Value)
	if adding {
		if !e.cfg.AllowComplex {
			logs.Debugf("%s: same-side position held, adding disabled", e.asset.Symbol)
			return schema.OrderRequest{}, false
		}
		if abs(composite) < abs(e.maxSignal) {
			logs.Debugf("%s: composite %d weaker than running max %d", e.asset.Symbol, composite, e.maxSignal)
			return schema.OrderRequest{}, false
		}
		if math.Abs(price-pos.OpenPrice) < pos.OpenPrice*e.cfg.MinAddMovePct {
			logs.Debugf("%s: price moved less than %.2f%% since open", e.asset.Symbol, e.cfg.MinAddMovePct*100)
			return schema.OrderRequest{}, false
		}
	}

	available := 0.0
	if b, ok := e.balances[e.asset.BaseTicker]; ok {
		available = b.Value - b.Locked
	}
	closing := hasPos && !adding
	if available <= 0 && !closing {
		logs.Debugf("%s: no free %s balance", e.asset.Symbol, e.asset.BaseTicker)
		return schema.OrderRequest{}, false
	}

	value := direction * math.Min(e.cfg.TradeSizeLimit, math.Max(available, 0)) / price
	if closing {
		// one request both closes the held side and opens the new one
		value -= pos.Value
	}

	value = normalizeStep(value, e.asset.ValueStep)
	if math.Abs(value) < e.asset.MinOrderAmount {
		logs.Debugf("%s: %.8f below minimum order amount %.8f", e.asset.Symbol, value, e.asset.MinOrderAmount)
		return schema.OrderRequest{}, false
	}

	if adding && math.Abs(pos.Value+value)*price > e.cfg.PositionSizeLimit {
		logs.Debugf("%s: combined position would exceed cap %.2f", e.asset.Symbol, e.cfg.PositionSizeLimit)
		return schema.OrderRequest{}, false
	}

	req := schema.OrderRequest{
		Market:      e.asset.Market,
		Ticker:      e.asset.Symbol,
		Value:       value,
		Price:       price,
		Slippage:    e.cfg.MaxOpenSlippage,
		LifetimeMin: e.cfg.OrderLifetimeMin,
	}
	step := e.asset.PriceStep
	if e.cfg.StopLossPct > 0 {
		req.StopLoss = normalizeStep(price*(1-direction*e.cfg.StopLossPct), step)
	}
	if e.cfg.TakeProfitPct > 0 {
		req.TakeProfit = normalizeStep(price*(1+direction*e.cfg.TakeProfitPct), step)
	}
	if e.cfg.TrailingProfitPct > 0 {
		req.TrailingProfit = normalizeStep(price*(1+direction*e.cfg.TrailingProfitPct), step)
		req.TrailingDistance = normalizeStep(price*e.cfg.TrailingStopPct, step)
	}
	return req, true
}

// normalizeStep snaps v to the nearest multiple of step, half away from zero.
func normalizeStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	sign := 1.0
	if v < 0 {
		sign = -1.0
	}
	return sign * math.Floor(math.Abs(v)/step+0.5) * step
}

func sameSign(a, b int) bool {
	return (a >= 0) == (b >= 0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
