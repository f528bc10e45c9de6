package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeagent/internal/schema"
)

func candle(close float64) schema.Candle {
	return schema.Candle{Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestBuildRejectsBadConfigs(t *testing.T) {
	cases := []Config{
		{Kind: "sma_cross", Timeframe: 5},                                  // missing periods
		{Kind: "sma_cross", Timeframe: 5, FastPeriod: 10, SlowPeriod: 5},   // fast >= slow
		{Kind: "momentum", Timeframe: 5, Lookback: 3},                      // missing threshold
		{Kind: "vibes", Timeframe: 5},                                      // unknown kind
		{Kind: "sma_cross", FastPeriod: 2, SlowPeriod: 5},                  // missing timeframe
	}
	for _, cfg := range cases {
		_, err := Build(cfg)
		assert.Error(t, err, "config %+v should be rejected", cfg)
	}
}

func TestBuildAllRejectsDuplicateTimeframes(t *testing.T) {
	_, err := BuildAll([]Config{
		{Kind: "momentum", Timeframe: 5, Lookback: 3, Threshold: 0.01},
		{Kind: "momentum", Timeframe: 5, Lookback: 5, Threshold: 0.01},
	})
	assert.Error(t, err)
}

func TestSMACrossSignalsOnCross(t *testing.T) {
	a, err := Build(Config{Kind: "sma_cross", Timeframe: 15, FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, a.WarmupPeriod())
	assert.Equal(t, uint32(15), a.Timeframe())

	// flat history: fast == slow, no conviction
	for _, c := range []float64{10, 10, 10, 10} {
		a.Warmup(candle(c))
	}
	assert.Zero(t, a.Analyze(candle(10)))

	// rally lifts the fast mean through the slow one exactly once
	assert.Equal(t, 1, a.Analyze(candle(12)))
	assert.Zero(t, a.Analyze(candle(13)), "already above, no fresh cross")

	// sell-off drives it back down through
	assert.Zero(t, a.Analyze(candle(12)))
	assert.Equal(t, -1, a.Analyze(candle(8)))
}

func TestSMACrossSilentDuringWarmup(t *testing.T) {
	a, err := Build(Config{Kind: "sma_cross", Timeframe: 5, FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)
	assert.Zero(t, a.Analyze(candle(10)))
	assert.Zero(t, a.Analyze(candle(20)))
	assert.Zero(t, a.Analyze(candle(30)), "window not yet full")
}

func TestMomentumGradesMoves(t *testing.T) {
	a, err := Build(Config{Kind: "momentum", Timeframe: 60, Lookback: 3, Threshold: 0.05})
	require.NoError(t, err)

	for _, c := range []float64{100, 100, 100} {
		a.Warmup(candle(c))
	}
	assert.Zero(t, a.Analyze(candle(102)), "2% move is inside the band")
	assert.Equal(t, 1, a.Analyze(candle(107)), "7% over the 3-back close")
	assert.Equal(t, 2, a.Analyze(candle(111)), "11% is past twice the threshold")
	assert.Equal(t, -1, a.Analyze(candle(95.5)), "back under the 102 reference")
}
