package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"tradeagent/internal/codec"
	"tradeagent/internal/connector"
	"tradeagent/internal/schema"
)

// handshake replays the three feeding phases in order: asset info, account
// state, then the per-timeframe warmup history.
func (s *Service) handshake(ctx context.Context) error {
	if err := s.feeder.Push(ctx, codec.EncodeAssetInfo(nil, s.asset)); err != nil {
		return fmt.Errorf("asset info: %w", err)
	}
	if err := s.feeder.Sentinel(); err != nil {
		return err
	}

	if err := s.pushAccountState(ctx); err != nil {
		return fmt.Errorf("account state: %w", err)
	}
	if err := s.feeder.Sentinel(); err != nil {
		return err
	}

	if err := s.pushWarmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

func (s *Service) pushAccountState(ctx context.Context) error {
	balances, err := s.conn.GetBalances(ctx)
	if err != nil {
		return err
	}
	for _, b := range balances {
		if err := s.feeder.Push(ctx, codec.EncodeBalanceItem(nil, b)); err != nil {
			return err
		}
	}

	funds, err := s.conn.GetFunds(ctx)
	if err != nil {
		return err
	}
	for _, f := range funds {
		if err := s.feeder.Push(ctx, codec.EncodeFundingItem(nil, f)); err != nil {
			return err
		}
	}

	positions, err := s.conn.GetPositions(ctx)
	if err != nil {
		return err
	}
	var held []schema.Position
	for _, p := range positions {
		if p.Ticker != s.asset.Symbol {
			continue
		}
		held = append(held, p)
		if err := s.feeder.Push(ctx, codec.EncodePositionItem(nil, p)); err != nil {
			return err
		}
	}
	s.book.SetPositions(held)

	orders, err := s.conn.GetOrders(ctx, s.asset.Market, s.asset.Symbol)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := s.feeder.Push(ctx, codec.EncodeOrderItem(nil, o)); err != nil {
			return err
		}
	}
	return nil
}

// pushWarmup fetches every timeframe's history concurrently, awaits the
// whole fan-out, then replays each stream oldest-first with its terminating
// sentinel.
func (s *Service) pushWarmup(ctx context.Context) error {
	to := time.Now()

	pages := make([][]connector.TimedCandle, len(s.timeframes))
	errs := make([]error, len(s.timeframes))

	var wg sync.WaitGroup
	for i, tf := range s.timeframes {
		wg.Add(1)
		go func(i, tf int) {
			defer wg.Done()
			from := to.Add(-s.warmupWindow(tf))
			errs[i] = s.conn.GetPriceHistory(ctx, s.asset.Market, s.asset.Symbol, tf, from, to,
				func(c connector.TimedCandle) error {
					pages[i] = append(pages[i], c)
					return nil
				})
		}(i, tf)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("timeframe %d history: %w", s.timeframes[i], err)
		}
	}

	for i, tf := range s.timeframes {
		for _, c := range pages[i] {
			if err := s.feeder.Push(ctx, codec.EncodeWarmupCandle(nil, tf, c.Candle)); err != nil {
				return err
			}
		}
		if err := s.feeder.Sentinel(); err != nil {
			return err
		}
		logs.Infof("warmup replayed %d candles for timeframe %d", len(pages[i]), tf)
	}
	return nil
}

// warmupWindow covers at least the configured duration and always enough
// candles for the timeframe's analyzer recurrence to prime.
func (s *Service) warmupWindow(tf int) time.Duration {
	window := time.Duration(s.cfg.Agent.WarmupDuration)
	need := time.Duration(s.warmupDepth[tf]*tf) * time.Minute
	if need > window {
		return need
	}
	return window
}
