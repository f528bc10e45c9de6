package worker

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/codec"
	"tradeagent/internal/control"
	"tradeagent/internal/schema"
	"tradeagent/internal/shm"
	"tradeagent/internal/strategy"
)

func testStrategyConfig() strategy.Config {
	return strategy.Config{
		SignalThreshold: 2,
		TradeSizeLimit:  500,
		MaxOpenSlippage: 0.001,
	}
}

func testAnalyzers(t *testing.T) []analyzer.Analyzer {
	t.Helper()
	as, err := analyzer.BuildAll([]analyzer.Config{
		{Kind: "momentum", Timeframe: 5, Lookback: 3, Threshold: 0.01},
		{Kind: "momentum", Timeframe: 15, Lookback: 3, Threshold: 0.01},
	})
	require.NoError(t, err)
	return as
}

func TestFourPhaseSession(t *testing.T) {
	agentID := schema.GenAgentID(t.Name() + os.Getenv("HOSTNAME"))
	owner, err := shm.Open(agentID, shm.MinCapacity)
	require.NoError(t, err)
	t.Cleanup(owner.Cleanup)

	supConn, wrkConn := net.Pipe()
	rt, err := NewRuntime(Config{AgentID: agentID, Strategy: testStrategyConfig()},
		control.NewChannel(wrkConn), testAnalyzers(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	feeder := control.NewFeeder(control.NewChannel(supConn), 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	asset := schema.Asset{
		Market:         schema.MarketSpot,
		Symbol:         "BTCUSDT",
		Ticker:         "BTC",
		BaseTicker:     "USDT",
		Trading:        true,
		MinOrderAmount: 0.001,
		ValueStep:      0.001,
		PriceStep:      0.01,
	}
	require.NoError(t, feeder.Push(ctx, codec.EncodeAssetInfo(nil, asset)))
	require.NoError(t, feeder.Sentinel())

	require.NoError(t, feeder.Push(ctx, codec.EncodeBalanceItem(nil, schema.Balance{
		Ticker: "USDT", Value: 10000,
	})))
	require.NoError(t, feeder.Push(ctx, codec.EncodeBalanceItem(nil, schema.Balance{
		Ticker: "BTC", Value: 0.5,
	})))
	require.NoError(t, feeder.Push(ctx, codec.EncodeOrderItem(nil, schema.OpenOrder{
		ID: "carryover-1", Ticker: "BTCUSDT",
	})))
	require.NoError(t, feeder.Sentinel())

	for _, tf := range []int{5, 15} {
		for i := 0; i < 5; i++ {
			c := schema.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
			require.NoError(t, feeder.Push(ctx, codec.EncodeWarmupCandle(nil, tf, c)))
		}
		require.NoError(t, feeder.Sentinel())
	}

	// live: park a strong up-candle in the shared table and announce it
	assetID := schema.GenAssetID(asset.Market, asset.Symbol)
	owner.Store(5, assetID, schema.Candle{Open: 100, High: 111, Low: 100, Close: 110, Volume: 50})
	require.NoError(t, feeder.PushNoAck(codec.EncodeCandleReady(nil, 5)))

	select {
	case req := <-feeder.Requests():
		assert.Equal(t, "BTCUSDT", req.Ticker)
		assert.Positive(t, req.Value, "a 10%% rally buys")
		assert.InDelta(t, 110.0, req.Price, 1e-9)
	case <-ctx.Done():
		t.Fatal("no order request arrived")
	}
	assert.Equal(t, StateLive, rt.State())
	assert.True(t, owner.Read(5, assetID).IsZero(), "worker clears the slot after consuming")

	// fill reports are acknowledged like any handshake payload
	require.NoError(t, feeder.Push(ctx, codec.EncodeFillReport(nil, schema.Fill{
		OrderID: "ord-1", Market: asset.Market, Ticker: "BTCUSDT",
		Value: 4.5, BaseValue: 495, Price: 110, Fee: 0.4,
		TS: time.Now().UnixMilli(), Status: schema.FillStatusExecuted,
	})))

	require.NoError(t, feeder.Sentinel())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("runtime did not stop on the shutdown sentinel")
	}
	assert.Equal(t, StateTerminating, rt.State())
	feeder.Close()
}

func TestRuntimeTerminatesOnPeerLoss(t *testing.T) {
	supConn, wrkConn := net.Pipe()
	rt, err := NewRuntime(Config{AgentID: 1, Strategy: testStrategyConfig()},
		control.NewChannel(wrkConn), testAnalyzers(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	supConn.Close()
	select {
	case err := <-done:
		require.NoError(t, err, "peer loss is a normal exit")
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not notice the peer going away")
	}
	assert.Equal(t, StateTerminating, rt.State())
}

func TestRuntimeRejectsOutOfPhaseFrames(t *testing.T) {
	supConn, wrkConn := net.Pipe()
	rt, err := NewRuntime(Config{AgentID: 1, Strategy: testStrategyConfig()},
		control.NewChannel(wrkConn), testAnalyzers(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	// a live-phase frame during the asset phase is a protocol violation
	sup := control.NewChannel(supConn)
	require.NoError(t, sup.WriteFrame(codec.EncodeCandleReady(nil, 5)))

	select {
	case err := <-done:
		assert.NoError(t, err, "a violation ends the session without failing the process")
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not terminate")
	}
	assert.Equal(t, StateTerminating, rt.State())
	sup.Close()
}

func TestRuntimeIgnoresUnsubscribedTimeframe(t *testing.T) {
	rt, err := NewRuntime(Config{AgentID: 1, Strategy: testStrategyConfig()},
		control.NewChannel(&net.TCPConn{}), testAnalyzers(t))
	require.NoError(t, err)
	// no analyzer for tf 60; must not panic on a nil store either
	rt.onCandleReady(60)
}
