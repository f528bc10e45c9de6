package supervisor

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/codec"
	"tradeagent/internal/config"
	"tradeagent/internal/connector"
	"tradeagent/internal/control"
	"tradeagent/internal/ledger"
	"tradeagent/internal/notify"
	"tradeagent/internal/schema"
)

func TestAggregatorFoldBoundaries(t *testing.T) {
	agg := newAggregator([]int{5, 15})

	c := func(ts int64, o, h, l, cl, v float64) connector.TimedCandle {
		return connector.TimedCandle{TS: ts * minuteMs, Candle: schema.Candle{Open: o, High: h, Low: l, Close: cl, Volume: v}}
	}

	// base candles at minutes 0 and 5 close mid-window for the 15m fold
	ready := agg.fold(c(0, 10, 12, 9, 11, 100))
	assert.Equal(t, []int{5}, ready)
	ready = agg.fold(c(5, 11, 15, 11, 14, 50))
	assert.Equal(t, []int{5}, ready)

	partial := agg.current(15)
	assert.Equal(t, 10.0, partial.Open, "open keeps the first sample")
	assert.Equal(t, 15.0, partial.High)
	assert.Equal(t, 9.0, partial.Low)
	assert.Equal(t, 150.0, partial.Volume)

	// the candle ending at minute 15 completes the higher window
	ready = agg.fold(c(10, 14, 14, 7, 8, 25))
	assert.Equal(t, []int{5, 15}, ready)

	folded := agg.take(15)
	assert.Equal(t, schema.Candle{Open: 10, High: 15, Low: 7, Close: 8, Volume: 175}, folded)

	// the next base candle starts a fresh accumulation
	ready = agg.fold(c(15, 8, 9, 8, 9, 10))
	assert.Equal(t, []int{5}, ready)
	assert.Equal(t, 8.0, agg.current(15).Open)
}

type fakeConnector struct {
	connector.Connector

	placed  int32
	fills   []schema.Fill
	orderID string
}

func (f *fakeConnector) PlaceOrder(_ context.Context, _ schema.OrderRequest) (string, error) {
	atomic.AddInt32(&f.placed, 1)
	return f.orderID, nil
}

func (f *fakeConnector) FetchOrderResults(_ context.Context, _ schema.Market, _ string, _ []string) ([]schema.Fill, error) {
	return f.fills, nil
}

type captureTransport struct {
	texts chan string
}

func (c *captureTransport) Send(_ context.Context, text string) error {
	c.texts <- text
	return nil
}

func testConfig(name string) *config.Config {
	return &config.Config{
		Agent:  config.AgentConfig{Name: name, StopGrace: config.Duration(time.Second)},
		Market: "spot",
		Symbol: "BTCUSDT",
		Analyzers: []analyzer.Config{
			{Kind: "momentum", Timeframe: 5, Lookback: 3, Threshold: 0.01},
		},
		Guard: config.GuardConfig{LossStreakLimit: 1},
	}
}

// newTestService wires a service around fakes plus a pipe-backed feeder with
// a worker stub that acknowledges every payload.
func newTestService(t *testing.T, conn *fakeConnector) (*Service, *captureTransport, *ledger.Sqlite) {
	t.Helper()
	led, err := ledger.NewSqlite(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	tr := &captureTransport{texts: make(chan string, 16)}
	svc, err := New(testConfig(t.Name()), conn, nil, led, notify.NewDispatcher(tr, 16))
	require.NoError(t, err)

	supConn, wrkConn := net.Pipe()
	svc.attachFeeder(control.NewChannel(supConn))
	wrk := control.NewChannel(wrkConn)
	go func() {
		buf := make([]byte, codec.FrameSize)
		for {
			frame, err := wrk.ReadFrame(buf)
			if err != nil {
				return
			}
			if kind, _ := codec.FrameKind(frame); kind != codec.KindSentinel {
				_ = wrk.Ack()
			}
		}
	}()
	t.Cleanup(func() { _ = wrk.Close() })

	svc.asset = schema.Asset{Market: schema.MarketSpot, Symbol: "BTCUSDT", Trading: true}
	svc.assetID = schema.GenAssetID(schema.MarketSpot, "BTCUSDT")
	return svc, tr, led
}

func TestOrderSuppressedByRiskGate(t *testing.T) {
	conn := &fakeConnector{orderID: "ord-1"}
	svc, tr, led := newTestService(t, conn)
	ctx := context.Background()

	// one losing trade against a loss-streak limit of one trips the gate
	require.NoError(t, led.Append(ctx, schema.Trade{TS: time.Now().UnixMilli(), Ticker: "BTCUSDT", PnL: -1}))
	require.NoError(t, svc.guard.Refresh(ctx))
	require.False(t, svc.guard.Allowed())

	svc.handleOrderRequest(ctx, schema.OrderRequest{Market: schema.MarketSpot, Ticker: "BTCUSDT", Value: 1})
	assert.Zero(t, atomic.LoadInt32(&conn.placed), "gated orders never reach the venue")

	select {
	case text := <-tr.texts:
		assert.Contains(t, text, "halted")
	case <-time.After(2 * time.Second):
		t.Fatal("no operator notification for the suppressed order")
	}
}

func TestOrderPlacedAndSettled(t *testing.T) {
	now := time.Now().UnixMilli()
	conn := &fakeConnector{orderID: "ord-2", fills: []schema.Fill{{
		OrderID: "ord-2", Market: schema.MarketSpot, Ticker: "BTCUSDT",
		Value: 2, BaseValue: 200, Price: 100, Fee: 0.1,
		TS: now, Status: schema.FillStatusExecuted,
	}}}
	svc, tr, led := newTestService(t, conn)
	ctx := context.Background()

	svc.handleOrderRequest(ctx, schema.OrderRequest{Market: schema.MarketSpot, Ticker: "BTCUSDT", Value: 2, Price: 100})
	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.placed))

	ts, err := led.LastRecordTS(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, ts, "settled fill lands in the ledger")

	pos, ok := svc.book.Find(schema.MarketSpot, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 2.0, pos.Value, 1e-9)

	select {
	case text := <-tr.texts:
		assert.Contains(t, text, "ord-2")
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction notice")
	}

	// the fee-only loss trips the loss-streak limit of one
	assert.False(t, svc.guard.Allowed(), "refresh after settling must see the loss")
}

func TestRejectedFillSkipsLedger(t *testing.T) {
	conn := &fakeConnector{orderID: "ord-3", fills: []schema.Fill{{
		OrderID: "ord-3", Market: schema.MarketSpot, Ticker: "BTCUSDT",
		Status: schema.FillStatusRejected, Reason: "insufficient balance",
	}}}
	svc, tr, led := newTestService(t, conn)
	ctx := context.Background()

	svc.handleOrderRequest(ctx, schema.OrderRequest{Market: schema.MarketSpot, Ticker: "BTCUSDT", Value: 1})

	ts, err := led.LastRecordTS(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts, "rejected orders realize nothing")
	assert.True(t, svc.guard.Allowed())

	select {
	case text := <-tr.texts:
		assert.Contains(t, text, "rejected")
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection notice")
	}
}
