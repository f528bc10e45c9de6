package control

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"tradeagent/internal/codec"
	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

// DefaultAckPoll is how often a blocked sender re-checks for the worker's
// acknowledgement. The wait itself is unbounded; only channel closure or
// context cancellation ends it.
const DefaultAckPoll = time.Second

// Feeder is the supervisor's end of the control channel. It owns the read
// side: acknowledgement tokens are routed to blocked Push calls and order
// request frames from the worker to Requests.
type Feeder struct {
	ch      *Channel
	ackPoll time.Duration

	acks chan struct{}
	reqs chan schema.OrderRequest
	fin  chan struct{}
}

// NewFeeder wraps a channel and starts the read loop.
func NewFeeder(ch *Channel, ackPoll time.Duration) *Feeder {
	if ackPoll <= 0 {
		ackPoll = DefaultAckPoll
	}
	f := &Feeder{
		ch:      ch,
		ackPoll: ackPoll,
		acks:    make(chan struct{}, 1),
		reqs:    make(chan schema.OrderRequest, 64),
		fin:     make(chan struct{}),
	}
	go f.readLoop()
	return f
}

func (f *Feeder) readLoop() {
	defer close(f.fin)
	buf := make([]byte, codec.FrameSize)
	for {
		frame, err := f.ch.ReadFrame(buf)
		if err != nil {
			return
		}
		kind, _ := codec.FrameKind(frame)
		switch kind {
		case codec.KindAck:
			select {
			case f.acks <- struct{}{}:
			default:
			}
		case codec.KindOrderRequest:
			req, ok := codec.DecodeOrderRequest(frame)
			if !ok {
				logs.Errorf("feeder: undecodable order request frame")
				continue
			}
			f.reqs <- req
		default:
			logs.Errorf("feeder: unexpected frame kind %d from worker", kind)
		}
	}
}

// Requests yields order requests emitted by the worker during the live phase.
func (f *Feeder) Requests() <-chan schema.OrderRequest {
	return f.reqs
}

// Push sends one payload frame and blocks until the worker acknowledges it.
// The wait polls at the configured interval and repeats until acknowledged;
// it ends early only when the worker goes away or ctx is cancelled. This is
// the warmup backpressure: at most one unacknowledged payload in flight.
func (f *Feeder) Push(ctx context.Context, frame []byte) error {
	if f == nil {
		return exception.ErrNilInstance
	}
	// drain an ack left over from a previous aborted wait
	select {
	case <-f.acks:
	default:
	}
	if err := f.ch.WriteFrame(frame); err != nil {
		return err
	}
	ticker := time.NewTicker(f.ackPoll)
	defer ticker.Stop()
	for {
		select {
		case <-f.acks:
			return nil
		case <-f.fin:
			return exception.ErrPeerGone
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// no ack yet; keep polling
		}
	}
}

// PushNoAck sends one frame without waiting. Used for live candle notices
// and fill reports, which are tolerant to loss: the candle stays in the
// shared table and fills are re-polled.
func (f *Feeder) PushNoAck(frame []byte) error {
	if f == nil {
		return exception.ErrNilInstance
	}
	return f.ch.WriteFrame(frame)
}

// Sentinel sends one phase-terminator frame; sentinels are never awaited.
func (f *Feeder) Sentinel() error {
	return f.PushNoAck(codec.EncodeSentinel(nil))
}

// Close closes the underlying channel and stops the read loop.
func (f *Feeder) Close() error {
	if f == nil {
		return nil
	}
	return f.ch.Close()
}

// Done is closed when the read loop observed the peer go away.
func (f *Feeder) Done() <-chan struct{} {
	return f.fin
}
