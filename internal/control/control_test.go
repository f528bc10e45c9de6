package control

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradeagent/internal/codec"
	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

func pipePair() (*Channel, *Channel) {
	a, b := net.Pipe()
	return NewChannel(a), NewChannel(b)
}

func TestSocketListenDialRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	l, err := NewListener(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Listen(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := Dial(path, 3, 10*time.Millisecond)
		if err != nil {
			done <- err
			return
		}
		ch := NewChannel(conn)
		done <- ch.WriteFrame(codec.EncodeCandleReady(nil, 15))
	}()

	conn, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	ch := NewChannel(conn)
	frame, err := ch.ReadFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	if kind, _ := codec.FrameKind(frame); kind != codec.KindCandleReady {
		t.Fatalf("kind = %d, want %d", kind, codec.KindCandleReady)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	first, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	first.SetUnlinkOnClose(false)
	first.Close()

	l, err := NewListener(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Listen(); err != nil {
		t.Fatalf("listen over stale socket: %s", err)
	}
	l.Close()
}

func TestChannelPeerGone(t *testing.T) {
	a, b := pipePair()
	b.Close()
	if _, err := a.ReadFrame(nil); !errors.Is(err, exception.ErrPeerGone) {
		t.Fatalf("err = %v, want ErrPeerGone", err)
	}
}

func TestChannelRejectsShortFrame(t *testing.T) {
	a, _ := pipePair()
	if err := a.WriteFrame(make([]byte, 8)); !errors.Is(err, exception.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestPushWaitsForAck(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)
	defer f.Close()

	acked := make(chan struct{})
	go func() {
		buf := make([]byte, codec.FrameSize)
		frame, err := wrk.ReadFrame(buf)
		if err != nil {
			return
		}
		if kind, _ := codec.FrameKind(frame); kind != codec.KindWarmupCandle {
			return
		}
		time.Sleep(20 * time.Millisecond)
		close(acked)
		_ = wrk.Ack()
	}()

	frame := codec.EncodeWarmupCandle(nil, 5, schema.Candle{Open: 1, Close: 2})
	if err := f.Push(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	select {
	case <-acked:
	default:
		t.Fatal("push returned before the worker acknowledged")
	}
}

func TestPushFailsWhenPeerDies(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)
	defer f.Close()

	go func() {
		buf := make([]byte, codec.FrameSize)
		_, _ = wrk.ReadFrame(buf)
		wrk.Close()
	}()

	err := f.Push(context.Background(), codec.EncodeSentinel(nil))
	if !errors.Is(err, exception.ErrPeerGone) {
		t.Fatalf("err = %v, want ErrPeerGone", err)
	}
}

func TestFeederRoutesOrderRequests(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)
	defer f.Close()

	want := schema.OrderRequest{Market: schema.MarketSpot, Ticker: "BTCUSDT", Value: 0.5, Slippage: 0.001}
	go func() {
		_ = wrk.WriteFrame(codec.EncodeOrderRequest(nil, want))
	}()

	select {
	case got := <-f.Requests():
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("order request never arrived")
	}
}

func TestTerminatorGracefulStop(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)

	var sentinels int32
	go func() {
		buf := make([]byte, codec.FrameSize)
		for {
			frame, err := wrk.ReadFrame(buf)
			if err != nil {
				return
			}
			if kind, _ := codec.FrameKind(frame); kind == codec.KindSentinel {
				atomic.AddInt32(&sentinels, 1)
			}
		}
	}()

	var killed int32
	term := NewTerminator(f, 50*time.Millisecond,
		func(time.Duration) bool { return true },
		func() error { atomic.AddInt32(&killed, 1); return nil },
	)
	term.Stop()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&sentinels) != sentinelBurst {
		if time.Now().After(deadline) {
			t.Fatalf("sentinels = %d, want %d", atomic.LoadInt32(&sentinels), sentinelBurst)
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&killed) != 0 {
		t.Fatal("graceful exit must not kill")
	}
	wrk.Close()
}

func TestTerminatorKillsStuckWorker(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)

	go func() {
		buf := make([]byte, codec.FrameSize)
		for {
			if _, err := wrk.ReadFrame(buf); err != nil {
				return
			}
		}
	}()

	var waits, killed int32
	term := NewTerminator(f, time.Millisecond,
		func(time.Duration) bool { return atomic.AddInt32(&waits, 1) > 1 },
		func() error { atomic.AddInt32(&killed, 1); return nil },
	)
	term.Stop()

	if atomic.LoadInt32(&killed) != 1 {
		t.Fatal("stuck worker was not killed")
	}
	wrk.Close()
}

func TestTerminatorStopIsIdempotent(t *testing.T) {
	sup, wrk := pipePair()
	f := NewFeeder(sup, 5*time.Millisecond)

	go func() {
		buf := make([]byte, codec.FrameSize)
		for {
			if _, err := wrk.ReadFrame(buf); err != nil {
				return
			}
		}
	}()

	var runs int32
	term := NewTerminator(f, time.Millisecond,
		func(time.Duration) bool { atomic.AddInt32(&runs, 1); return true },
		func() error { return nil },
	)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			term.Stop()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("stop sequence ran %d times, want 1", got)
	}
	wrk.Close()
}
