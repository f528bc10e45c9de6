package supervisor

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"tradeagent/internal/codec"
	"tradeagent/internal/connector"
	"tradeagent/internal/notify"
	"tradeagent/internal/schema"
	"tradeagent/internal/shm"
)

const minuteMs = 60_000

// aggregator folds base-timeframe candles up into every higher timeframe.
// One instance is owned by the market data loop; no locking.
type aggregator struct {
	baseTF int
	higher []int
	agg    map[int]schema.Candle
}

func newAggregator(timeframes []int) *aggregator {
	a := &aggregator{
		baseTF: timeframes[0],
		agg:    make(map[int]schema.Candle),
	}
	for _, tf := range timeframes[1:] {
		a.higher = append(a.higher, tf)
	}
	return a
}

// fold absorbs one closed base candle and returns the timeframes whose
// period ends exactly at this candle's close. The base timeframe is always
// ready; a higher one is ready when its cadence boundary is hit.
func (a *aggregator) fold(tc connector.TimedCandle) (ready []int) {
	endMs := tc.TS + int64(a.baseTF)*minuteMs
	ready = append(ready, a.baseTF)
	for _, tf := range a.higher {
		c := a.agg[tf]
		shm.Fold(&c, tc.Candle)
		a.agg[tf] = c
		if endMs%(int64(tf)*minuteMs) == 0 {
			ready = append(ready, tf)
		}
	}
	return ready
}

// take returns the folded candle for a completed higher timeframe and resets
// its accumulation window.
func (a *aggregator) take(tf int) schema.Candle {
	c := a.agg[tf]
	delete(a.agg, tf)
	return c
}

// current returns the in-progress fold for a higher timeframe.
func (a *aggregator) current(tf int) schema.Candle { return a.agg[tf] }

// marketDataLoop subscribes the base timeframe and fans each closed candle
// into the shared table, raising a fire-and-forget notice per completed
// timeframe.
func (s *Service) marketDataLoop(ctx context.Context) {
	agg := newAggregator(s.timeframes)
	err := s.stream.SubscribeKlines(ctx, s.asset.Symbol, []int{agg.baseTF}, func(_ int, tc connector.TimedCandle) {
		for _, tf := range agg.fold(tc) {
			candle := tc.Candle
			if tf != agg.baseTF {
				candle = agg.take(tf)
			}
			s.store.Store(tf, s.assetID, candle)
			if err := s.feeder.PushNoAck(codec.EncodeCandleReady(nil, tf)); err != nil {
				logs.Errorf("candle notice for timeframe %d: %s", tf, err)
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		logs.Errorf("market data stream ended: %s", err)
	}
}

// orderLoop consumes the worker's order requests, gates them through the
// risk breaker and settles fills back into the worker, the ledger and the
// notifier.
func (s *Service) orderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.feeder.Requests():
			if !ok {
				return
			}
			s.handleOrderRequest(ctx, req)
		}
	}
}

func (s *Service) handleOrderRequest(ctx context.Context, req schema.OrderRequest) {
	if !s.guard.Allowed() {
		reason := s.guard.DisallowanceReason()
		logs.Infof("order suppressed by risk gate: %s", reason)
		s.notifier.Push(notify.Event{Kind: notify.EventAgentError, Error: "trading halted: " + reason})
		return
	}

	orderID, err := s.conn.PlaceOrder(ctx, req)
	if err != nil {
		logs.Errorf("place order: %s", err)
		s.notifier.Push(notify.Event{Kind: notify.EventAgentError, Error: "order placement failed: " + err.Error()})
		return
	}
	logs.Infof("order %s placed: %s %+f", orderID, req.Ticker, req.Value)

	fills, err := s.conn.FetchOrderResults(ctx, req.Market, req.Ticker, []string{orderID})
	if err != nil {
		logs.Errorf("fetch order results: %s", err)
		return
	}
	for _, fill := range fills {
		s.settleFill(ctx, fill)
	}
}

// settleFill reports the fill to the worker, prices it into the ledger,
// refreshes the risk gate and notifies the operator. Rejections and
// cancellations skip the ledger: nothing was realized.
func (s *Service) settleFill(ctx context.Context, fill schema.Fill) {
	if err := s.feeder.Push(ctx, codec.EncodeFillReport(nil, fill)); err != nil {
		logs.Errorf("report fill %s to worker: %s", fill.OrderID, err)
	}

	var pnl, equity float64
	if fill.Status == schema.FillStatusExecuted {
		pnl = s.book.ApplyFill(fill)
		if err := s.ledger.Append(ctx, schema.Trade{
			TS:     fillTimestamp(fill),
			Market: fill.Market,
			Ticker: fill.Ticker,
			Value:  fill.Value,
			Price:  fill.Price,
			Side:   fill.Side(),
			Fee:    fill.Fee,
			PnL:    pnl,
		}); err != nil {
			logs.Errorf("append trade %s: %s", fill.OrderID, err)
		}
		if err := s.guard.Refresh(ctx); err != nil {
			logs.Errorf("refresh risk state: %s", err)
		}
		if total, err := s.ledger.TotalPnL(ctx, 0); err == nil {
			equity = total
			logs.Infof("realized equity now %+f", total)
		}
	}

	s.notifier.Push(notify.Event{Kind: notify.EventTxNotice, Fill: fill, PnL: pnl, Equity: equity})
}

// fillTimestamp defends against venues that omit the update time.
func fillTimestamp(fill schema.Fill) int64 {
	if fill.TS > 0 {
		return fill.TS
	}
	return time.Now().UnixMilli()
}
