// Package worker runs the trading side of the system as a single sequential
// loop: it consumes the four handshake phases from the control channel,
// keeps per-timeframe analyzers and the decision engine fed, and emits order
// requests back to the supervising service.
package worker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/yanun0323/logs"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/codec"
	"tradeagent/internal/control"
	"tradeagent/internal/schema"
	"tradeagent/internal/shm"
	"tradeagent/internal/strategy"
	"tradeagent/pkg/exception"
)

// State is the runtime's position in the handshake. Transitions only move
// forward.
type State int

const (
	StateCreated State = iota
	StateReceivingAssetInfo
	StateReceivingAccountState
	StateWarmup
	StateLive
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReceivingAssetInfo:
		return "receiving_asset_info"
	case StateReceivingAccountState:
		return "receiving_account_state"
	case StateWarmup:
		return "warmup"
	case StateLive:
		return "live"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Config parameterizes one worker instance.
type Config struct {
	// AgentID names the shared memory segments; it must match the
	// supervisor's value for the same worker.
	AgentID  uint64
	Strategy strategy.Config
}

// Runtime owns the worker's side of the session. Everything below runs on
// the single Run loop, so no field needs locking.
type Runtime struct {
	cfg       Config
	ch        *control.Channel
	analyzers map[uint32]analyzer.Analyzer
	order     []uint32

	state    State
	asset    schema.Asset
	assetID  schema.AssetID
	balances []schema.Balance
	book     *strategy.PositionBook
	engine   *strategy.Engine
	store    *shm.Store

	rbuf []byte
	wbuf []byte
}

// NewRuntime builds a runtime over an established control channel.
func NewRuntime(cfg Config, ch *control.Channel, analyzers []analyzer.Analyzer) (*Runtime, error) {
	if ch == nil || len(analyzers) == 0 {
		return nil, exception.ErrInvalidArgument
	}
	byTF := make(map[uint32]analyzer.Analyzer, len(analyzers))
	order := make([]uint32, 0, len(analyzers))
	for _, a := range analyzers {
		if _, dup := byTF[a.Timeframe()]; dup {
			return nil, fmt.Errorf("worker: %w: duplicate analyzer timeframe %d", exception.ErrInvalidArgument, a.Timeframe())
		}
		byTF[a.Timeframe()] = a
		order = append(order, a.Timeframe())
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return &Runtime{
		cfg:       cfg,
		ch:        ch,
		analyzers: byTF,
		order:     order,
		state:     StateCreated,
		book:      strategy.NewPositionBook(),
		rbuf:      make([]byte, codec.FrameSize),
		wbuf:      make([]byte, codec.FrameSize),
	}, nil
}

// State returns the runtime's current phase.
func (r *Runtime) State() State {
	if r == nil {
		return StateTerminating
	}
	return r.state
}

// Run drives the session until the shutdown sentinel or channel loss, then
// releases the shared memory attachment. Peer loss is a normal exit, not an
// error.
func (r *Runtime) Run() error {
	if r == nil {
		return exception.ErrNilInstance
	}
	defer r.terminate()

	steps := []func() error{
		r.receiveAssetInfo,
		r.receiveAccountState,
		r.warmup,
		r.live,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			switch {
			case errors.Is(err, exception.ErrPeerGone):
				logs.Info("control channel lost, terminating")
				return nil
			case errors.Is(err, exception.ErrUnexpectedMessage), errors.Is(err, exception.ErrBadFrame):
				logs.Errorf("terminating: %s", err)
				return nil
			}
			return err
		}
		if r.state == StateTerminating {
			return nil
		}
	}
	return nil
}

func (r *Runtime) receiveAssetInfo() error {
	r.state = StateReceivingAssetInfo
	for {
		frame, err := r.ch.ReadFrame(r.rbuf)
		if err != nil {
			return err
		}
		switch kind, _ := codec.FrameKind(frame); kind {
		case codec.KindSentinel:
			return r.buildEngine()
		case codec.KindAssetInfo:
			asset, ok := codec.DecodeAssetInfo(frame)
			if !ok {
				return r.badFrame(kind)
			}
			r.asset = asset
			r.assetID = schema.GenAssetID(asset.Market, asset.Symbol)
			logs.Infof("asset info received: %s (%s/%s)", asset.Symbol, asset.Ticker, asset.BaseTicker)
			if err := r.ch.Ack(); err != nil {
				return err
			}
		default:
			return r.protocolViolation(kind)
		}
	}
}

func (r *Runtime) receiveAccountState() error {
	r.state = StateReceivingAccountState
	var positions []schema.Position
	for {
		frame, err := r.ch.ReadFrame(r.rbuf)
		if err != nil {
			return err
		}
		switch kind, _ := codec.FrameKind(frame); kind {
		case codec.KindSentinel:
			r.book.SetPositions(positions)
			r.engine.SetBalances(r.balances)
			logs.Infof("account state received: %d balances, %d positions", len(r.balances), len(positions))
			return nil
		case codec.KindAccountItem:
			itemKind, _ := codec.AccountItemKind(frame)
			switch itemKind {
			case schema.AccountItemBalance:
				if b, ok := codec.DecodeBalanceItem(frame); ok {
					r.balances = append(r.balances, b)
				}
			case schema.AccountItemFunding:
				if f, ok := codec.DecodeFundingItem(frame); ok {
					logs.Debugf("funding balance %s: %f", f.Ticker, f.Balance)
				}
			case schema.AccountItemPosition:
				if p, ok := codec.DecodePositionItem(frame); ok {
					positions = append(positions, p)
				}
			case schema.AccountItemOrder:
				if o, ok := codec.DecodeOrderItem(frame); ok {
					logs.Debugf("open order carried over: %s %s", o.ID, o.Ticker)
				}
			}
			if err := r.ch.Ack(); err != nil {
				return err
			}
		default:
			return r.protocolViolation(kind)
		}
	}
}

func (r *Runtime) warmup() error {
	r.state = StateWarmup
	pending := len(r.analyzers)
	for pending > 0 {
		frame, err := r.ch.ReadFrame(r.rbuf)
		if err != nil {
			return err
		}
		switch kind, _ := codec.FrameKind(frame); kind {
		case codec.KindSentinel:
			pending--
		case codec.KindWarmupCandle:
			tf, candle, ok := codec.DecodeWarmupCandle(frame)
			if !ok {
				return r.badFrame(kind)
			}
			if a, subscribed := r.analyzers[uint32(tf)]; subscribed {
				a.Warmup(candle)
			}
			if err := r.ch.Ack(); err != nil {
				return err
			}
		default:
			return r.protocolViolation(kind)
		}
	}

	store, err := shm.Open(r.cfg.AgentID, 0)
	if err != nil {
		return fmt.Errorf("worker: attach candle table: %w", err)
	}
	r.store = store
	logs.Infof("warmup finished across %d timeframes, going live", len(r.analyzers))
	return nil
}

func (r *Runtime) live() error {
	r.state = StateLive
	for {
		frame, err := r.ch.ReadFrame(r.rbuf)
		if err != nil {
			return err
		}
		switch kind, _ := codec.FrameKind(frame); kind {
		case codec.KindSentinel:
			logs.Info("shutdown sentinel received")
			r.state = StateTerminating
			return nil
		case codec.KindCandleReady:
			r.onCandleReady(codec.FrameTimeframe(frame))
		case codec.KindFillReport:
			fill, ok := codec.DecodeFillReport(frame)
			if !ok {
				return r.badFrame(kind)
			}
			r.onFill(fill)
			if err := r.ch.Ack(); err != nil {
				return err
			}
		default:
			return r.protocolViolation(kind)
		}
	}
}

// onCandleReady pulls the announced candle out of the shared table and runs
// one analyze-decide cycle. A zero candle means the slot was consumed or
// overwritten already; the next cadence tick brings fresh data.
func (r *Runtime) onCandleReady(tf int) {
	a, subscribed := r.analyzers[uint32(tf)]
	if !subscribed {
		return
	}
	candle := r.store.Read(tf, r.assetID)
	if candle.IsZero() {
		return
	}
	r.store.Clear(tf, r.assetID)

	signal := a.Analyze(candle)
	req, ok := r.engine.OnSignal(uint32(tf), signal, candle.Close)
	if !ok {
		return
	}
	if !r.asset.Trading {
		logs.Infof("%s: trading disabled, dropping order request", r.asset.Symbol)
		return
	}
	if err := r.ch.WriteFrame(codec.EncodeOrderRequest(r.wbuf, req)); err != nil {
		logs.Errorf("send order request: %s", err)
		return
	}
	logs.Infof("order requested: %s %+f @ %f", req.Ticker, req.Value, req.Price)
}

func (r *Runtime) onFill(fill schema.Fill) {
	if fill.Status != schema.FillStatusExecuted {
		logs.Infof("order %s %s: %s", fill.OrderID, fill.Status, fill.Reason)
		return
	}
	pnl := r.book.ApplyFill(fill)
	logs.Infof("fill applied: %s %+f @ %f, realized %+f", fill.Ticker, fill.Value, fill.Price, pnl)
}

func (r *Runtime) buildEngine() error {
	engine, err := strategy.NewEngine(r.cfg.Strategy, r.asset, r.book, r.order)
	if err != nil {
		return fmt.Errorf("worker: build engine: %w", err)
	}
	r.engine = engine
	return nil
}

// protocolViolation ends the session on an out-of-phase message.
func (r *Runtime) protocolViolation(kind codec.Kind) error {
	r.state = StateTerminating
	return fmt.Errorf("worker: %w: kind %d in state %s", exception.ErrUnexpectedMessage, kind, r.state)
}

// badFrame ends the session on a frame whose kind is valid for the phase but
// whose payload cannot be decoded.
func (r *Runtime) badFrame(kind codec.Kind) error {
	r.state = StateTerminating
	return fmt.Errorf("worker: %w: kind %d", exception.ErrBadFrame, kind)
}

func (r *Runtime) terminate() {
	r.state = StateTerminating
	if r.store != nil {
		r.store.Cleanup()
		r.store = nil
	}
	_ = r.ch.Close()
}
