// Package analyzer holds the pluggable per-timeframe signal producers. Each
// analyzer is a pure numeric recurrence: candles in, a small signed
// conviction integer out.
package analyzer

import (
	"fmt"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

// Analyzer produces one timeframe's directional signal.
type Analyzer interface {
	// Timeframe returns the candle period in minutes this analyzer consumes.
	Timeframe() uint32
	// WarmupPeriod returns how many historical candles the recurrence needs
	// before its output is meaningful.
	WarmupPeriod() int
	// Warmup feeds one historical candle without producing a signal.
	Warmup(c schema.Candle)
	// Analyze feeds one live candle and returns the signal: sign is
	// direction, magnitude is strength, zero is no conviction.
	Analyze(c schema.Candle) int
}

// Config selects and parameterizes one analyzer instance. Unknown kinds and
// missing required parameters are rejected at construction, never defaulted.
type Config struct {
	Kind      string `yaml:"kind"`
	Timeframe uint32 `yaml:"timeframe"`

	// sma_cross
	FastPeriod int `yaml:"fast_period"`
	SlowPeriod int `yaml:"slow_period"`

	// momentum
	Lookback  int     `yaml:"lookback"`
	Threshold float64 `yaml:"threshold"`
}

// Build constructs the analyzer a config names.
func Build(cfg Config) (Analyzer, error) {
	if cfg.Timeframe == 0 {
		return nil, fmt.Errorf("analyzer %q: %w: timeframe required", cfg.Kind, exception.ErrInvalidArgument)
	}
	switch cfg.Kind {
	case "sma_cross":
		return newSMACross(cfg)
	case "momentum":
		return newMomentum(cfg)
	default:
		return nil, fmt.Errorf("analyzer: %w: unknown kind %q", exception.ErrInvalidArgument, cfg.Kind)
	}
}

// BuildAll constructs one analyzer per config, rejecting duplicate
// timeframes.
func BuildAll(cfgs []Config) ([]Analyzer, error) {
	seen := make(map[uint32]bool, len(cfgs))
	out := make([]Analyzer, 0, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.Timeframe] {
			return nil, fmt.Errorf("analyzer: %w: duplicate timeframe %d", exception.ErrInvalidArgument, cfg.Timeframe)
		}
		seen[cfg.Timeframe] = true
		a, err := Build(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
