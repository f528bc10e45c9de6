package analyzer

import (
	"fmt"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

// smaCross signals on the fast moving average crossing the slow one: +1 on
// an upward cross, -1 on a downward cross, 0 while they hold their order.
type smaCross struct {
	timeframe uint32
	fast      *rollingMean
	slow      *rollingMean
	lastDiff  float64
	primed    bool
}

func newSMACross(cfg Config) (*smaCross, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		return nil, fmt.Errorf("sma_cross: %w: need 0 < fast_period < slow_period", exception.ErrInvalidArgument)
	}
	return &smaCross{
		timeframe: cfg.Timeframe,
		fast:      newRollingMean(cfg.FastPeriod),
		slow:      newRollingMean(cfg.SlowPeriod),
	}, nil
}

func (s *smaCross) Timeframe() uint32 { return s.timeframe }

func (s *smaCross) WarmupPeriod() int { return s.slow.period }

func (s *smaCross) Warmup(c schema.Candle) {
	s.push(c.Close)
}

func (s *smaCross) Analyze(c schema.Candle) int {
	prevDiff, prevPrimed := s.lastDiff, s.primed
	s.push(c.Close)
	if !s.primed || !prevPrimed {
		return 0
	}
	switch {
	case prevDiff <= 0 && s.lastDiff > 0:
		return 1
	case prevDiff >= 0 && s.lastDiff < 0:
		return -1
	default:
		return 0
	}
}

func (s *smaCross) push(close float64) {
	s.fast.push(close)
	s.slow.push(close)
	if s.slow.full() {
		s.lastDiff = s.fast.mean() - s.slow.mean()
		s.primed = true
	}
}

// rollingMean is a fixed-window mean over the most recent pushes.
type rollingMean struct {
	period int
	values []float64
	next   int
	count  int
	sum    float64
}

func newRollingMean(period int) *rollingMean {
	return &rollingMean{period: period, values: make([]float64, period)}
}

func (r *rollingMean) push(v float64) {
	if r.count == r.period {
		r.sum -= r.values[r.next]
	} else {
		r.count++
	}
	r.values[r.next] = v
	r.sum += v
	r.next = (r.next + 1) % r.period
}

func (r *rollingMean) full() bool { return r.count == r.period }

func (r *rollingMean) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}
