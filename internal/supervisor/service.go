// Package supervisor orchestrates one worker: shared table ownership, the
// worker process lifecycle, the four-phase handshake, live market data
// fan-in, order execution and the risk gate around it.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/config"
	"tradeagent/internal/connector"
	"tradeagent/internal/control"
	"tradeagent/internal/guard"
	"tradeagent/internal/ledger"
	"tradeagent/internal/notify"
	"tradeagent/internal/schema"
	"tradeagent/internal/shm"
	"tradeagent/internal/strategy"
)

// Service owns everything on the supervising side of one worker.
type Service struct {
	cfg      *config.Config
	conn     connector.Connector
	stream   connector.Stream
	ledger   ledger.Ledger
	guard    *guard.MoneyGuard
	notifier *notify.Dispatcher

	agentID    uint64
	asset      schema.Asset
	assetID    schema.AssetID
	timeframes []int
	// warmupDepth maps each timeframe to the candle count its analyzer
	// needs before the live phase.
	warmupDepth map[int]int

	store    *shm.Store
	listener *control.Listener
	feeder   *control.Feeder
	term     *control.Terminator

	cmd      *exec.Cmd
	procDone chan struct{}

	// book mirrors the worker's reconciliation so settled fills can be
	// priced into the ledger without asking the worker.
	book *strategy.PositionBook

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a service from its collaborators. The connector, stream, ledger
// and notifier are injected so tests can fake the venue.
func New(cfg *config.Config, conn connector.Connector, stream connector.Stream, led ledger.Ledger, notifier *notify.Dispatcher) (*Service, error) {
	g, err := guard.New(cfg.Guard.Limits(), led)
	if err != nil {
		return nil, err
	}
	analyzers, err := analyzer.BuildAll(cfg.Analyzers)
	if err != nil {
		return nil, err
	}
	tfs := make([]int, 0, len(analyzers))
	depth := make(map[int]int, len(analyzers))
	for _, a := range analyzers {
		tfs = append(tfs, int(a.Timeframe()))
		depth[int(a.Timeframe())] = a.WarmupPeriod()
	}
	sort.Ints(tfs)
	return &Service{
		cfg:         cfg,
		conn:        conn,
		stream:      stream,
		ledger:      led,
		guard:       g,
		notifier:    notifier,
		agentID:     schema.GenAgentID(cfg.Agent.Name),
		timeframes:  tfs,
		warmupDepth: depth,
		book:        strategy.NewPositionBook(),
		procDone:    make(chan struct{}),
	}, nil
}

// Run brings the worker up, replays the handshake and serves the live phase
// until ctx is cancelled or the worker dies. Stop is always executed on the
// way out.
func (s *Service) Run(ctx context.Context) error {
	defer s.Stop()

	if err := s.guard.Refresh(ctx); err != nil {
		return fmt.Errorf("supervisor: initial risk state: %w", err)
	}

	asset, err := s.conn.GetAssetInfo(ctx, s.cfg.SchemaMarket(), s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("supervisor: asset info: %w", err)
	}
	s.asset = asset
	s.assetID = schema.GenAssetID(asset.Market, asset.Symbol)

	if err := s.openStore(); err != nil {
		return err
	}
	if err := s.spawnWorker(); err != nil {
		return err
	}
	if err := s.handshake(ctx); err != nil {
		return fmt.Errorf("supervisor: handshake: %w", err)
	}

	logs.Infof("worker %s live on %s across timeframes %v", s.cfg.Agent.Name, s.asset.Symbol, s.timeframes)

	liveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.marketDataLoop(liveCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.orderLoop(liveCtx)
	}()

	select {
	case <-sys.Shutdown():
		return nil
	case <-ctx.Done():
		return nil
	case <-s.procDone:
		return fmt.Errorf("supervisor: worker exited unexpectedly")
	case <-s.feeder.Done():
		return fmt.Errorf("supervisor: control channel lost")
	}
}

// openStore creates the shared table sized to the number of keys in use,
// replacing an existing undersized table.
func (s *Service) openStore() error {
	capacity := len(s.timeframes)
	store, err := shm.Open(s.agentID, capacity)
	if err == nil {
		s.store = store
		return nil
	}
	// resize by replacement: unlink the stale segments and recreate
	logs.Errorf("supervisor: candle table unusable (%s), recreating", err)
	shm.Remove(s.agentID)
	store, err = shm.Open(s.agentID, capacity)
	if err != nil {
		return fmt.Errorf("supervisor: create candle table: %w", err)
	}
	s.store = store
	return nil
}

func (s *Service) spawnWorker() error {
	s.listener = mustListener(s.cfg.Agent.SocketPath)
	if err := s.listener.Listen(); err != nil {
		return fmt.Errorf("supervisor: control socket: %w", err)
	}

	cmd := exec.Command(s.cfg.Agent.Binary,
		"-config", s.cfg.Path(),
		"-socket", s.cfg.Agent.SocketPath,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawn worker %s: %w", s.cfg.Agent.Binary, err)
	}
	s.cmd = cmd
	go func() {
		_ = cmd.Wait()
		close(s.procDone)
	}()

	conn, err := s.listener.Accept()
	if err != nil {
		return fmt.Errorf("supervisor: worker never connected: %w", err)
	}
	s.attachFeeder(control.NewChannel(conn))
	return nil
}

// attachFeeder wires the control channel and the two-stage terminator.
func (s *Service) attachFeeder(ch *control.Channel) {
	s.feeder = control.NewFeeder(ch, control.DefaultAckPoll)
	grace := time.Duration(s.cfg.Agent.StopGrace)
	s.term = control.NewTerminator(s.feeder, grace, s.waitWorker, s.killWorker)
}

func (s *Service) waitWorker(timeout time.Duration) bool {
	if s.cmd == nil {
		return true
	}
	select {
	case <-s.procDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Service) killWorker() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Stop runs the shutdown sequence exactly once: cooperative worker stop,
// then resource teardown. Safe to call concurrently with Run's own deferred
// stop and from a signal handler.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.term != nil {
			s.term.Stop()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		if s.store != nil {
			s.store.Cleanup()
		}
		if s.notifier != nil {
			s.notifier.Close()
		}
		if s.ledger != nil {
			_ = s.ledger.Close()
		}
		logs.Infof("supervisor for %s stopped", s.cfg.Agent.Name)
	})
}

func mustListener(path string) *control.Listener {
	l, err := control.NewListener(path)
	if err != nil {
		// the path was validated by config loading
		panic(err)
	}
	return l
}
