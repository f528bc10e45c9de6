package analyzer

import (
	"fmt"
	"math"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

// momentum signals on the relative close-to-close move over a lookback:
// +2/-2 past twice the threshold, +1/-1 past it, 0 inside the band.
type momentum struct {
	timeframe uint32
	lookback  int
	threshold float64
	closes    []float64
	next      int
	count     int
}

func newMomentum(cfg Config) (*momentum, error) {
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("momentum: %w: lookback required", exception.ErrInvalidArgument)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("momentum: %w: threshold required", exception.ErrInvalidArgument)
	}
	return &momentum{
		timeframe: cfg.Timeframe,
		lookback:  cfg.Lookback,
		threshold: cfg.Threshold,
		closes:    make([]float64, cfg.Lookback),
	}, nil
}

func (m *momentum) Timeframe() uint32 { return m.timeframe }

func (m *momentum) WarmupPeriod() int { return m.lookback }

func (m *momentum) Warmup(c schema.Candle) {
	m.push(c.Close)
}

func (m *momentum) Analyze(c schema.Candle) int {
	signal := 0
	if m.count == m.lookback {
		ref := m.closes[m.next]
		if ref > 0 {
			move := (c.Close - ref) / ref
			switch {
			case math.Abs(move) < m.threshold:
			case math.Abs(move) < 2*m.threshold:
				signal = sign(move)
			default:
				signal = 2 * sign(move)
			}
		}
	}
	m.push(c.Close)
	return signal
}

func (m *momentum) push(close float64) {
	m.closes[m.next] = close
	m.next = (m.next + 1) % m.lookback
	if m.count < m.lookback {
		m.count++
	}
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}
