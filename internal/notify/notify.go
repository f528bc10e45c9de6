// Package notify pushes operator-facing events: settled transactions and
// worker errors. Delivery is fire-and-forget behind a bounded queue; when the
// transport cannot keep up, events are dropped instead of stalling the
// trading path.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/yanun0323/logs"

	"tradeagent/internal/schema"
)

// EventKind tags the notification union.
type EventKind int

const (
	EventTxNotice EventKind = iota
	EventAgentError
)

// Event is one operator notification.
type Event struct {
	Kind   EventKind
	Fill   schema.Fill
	PnL    float64
	Equity float64
	Error  string
}

func (e Event) text() string {
	switch e.Kind {
	case EventTxNotice:
		return fmt.Sprintf("%s %s %+f @ %f (fee %f, pnl %+f, equity %+f) [%s]",
			e.Fill.Ticker, e.Fill.Status, e.Fill.Value, e.Fill.Price, e.Fill.Fee, e.PnL, e.Equity, e.Fill.OrderID)
	case EventAgentError:
		return "agent error: " + e.Error
	default:
		return fmt.Sprintf("unknown event %+v", e)
	}
}

// Transport delivers one rendered notification.
type Transport interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher fans events out to a transport through a bounded queue.
type Dispatcher struct {
	transport Transport
	queue     chan Event
	done      chan struct{}

	// mu makes Push safe against a concurrent Close: the queue is only
	// closed while no sender holds the read side.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery loop.
func NewDispatcher(transport Transport, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = 1
	}
	d := &Dispatcher{
		transport: transport,
		queue:     make(chan Event, capacity),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ctx := context.Background()
	for e := range d.queue {
		if err := d.transport.Send(ctx, e.text()); err != nil {
			logs.Errorf("notify: deliver: %s", err)
		}
	}
}

// Push enqueues an event, dropping it when the queue is full or closed.
func (d *Dispatcher) Push(e Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		logs.Errorf("notify: queue full, dropping %d event", e.Kind)
	}
}

// Close stops intake and waits for queued events to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
