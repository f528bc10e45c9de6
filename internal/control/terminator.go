package control

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// sentinelBurst is how many terminator frames the first stop stage sends.
// One would do; the burst covers a worker that is mid-read on a phase
// boundary and consumes a sentinel as a phase terminator instead.
const sentinelBurst = 4

// Terminator drives the two-stage worker shutdown. Stage one asks politely:
// a burst of sentinel frames, then a bounded wait for the worker to exit on
// its own. Stage two kills. Stop is safe to invoke from several goroutines;
// only the first caller runs the sequence.
type Terminator struct {
	feeder *Feeder
	grace  time.Duration

	// wait blocks until the worker process exits or the timeout elapses,
	// reporting whether it exited.
	wait func(timeout time.Duration) bool
	// kill forcibly terminates the worker process.
	kill func() error

	once sync.Once
}

// NewTerminator builds a terminator over the feeder and process handles.
func NewTerminator(feeder *Feeder, grace time.Duration, wait func(time.Duration) bool, kill func() error) *Terminator {
	return &Terminator{feeder: feeder, grace: grace, wait: wait, kill: kill}
}

// Stop runs the shutdown sequence exactly once. Later calls return
// immediately without re-running any stage.
func (t *Terminator) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.stop)
}

func (t *Terminator) stop() {
	for i := 0; i < sentinelBurst; i++ {
		if err := t.feeder.Sentinel(); err != nil {
			// peer already gone; fall through to the wait so the
			// process handle is still reaped
			break
		}
	}
	if t.wait(t.grace) {
		logs.Info("worker exited cleanly")
		_ = t.feeder.Close()
		return
	}
	logs.Errorf("worker ignored stop request for %s, killing", t.grace)
	if err := t.kill(); err != nil {
		logs.Errorf("kill worker: %s", err)
	}
	t.wait(t.grace)
	_ = t.feeder.Close()
}
