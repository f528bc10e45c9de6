package control

import (
	"errors"
	"io"
	"net"
	"sync"

	"tradeagent/internal/codec"
	"tradeagent/pkg/exception"
)

// Channel is one end of the duplex control connection. Writes are serialized
// so frames from concurrent senders never interleave; reads are expected
// from a single goroutine.
type Channel struct {
	conn net.Conn

	wmu    sync.Mutex
	closed bool
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// WriteFrame sends one full frame.
func (c *Channel) WriteFrame(frame []byte) error {
	if c == nil {
		return exception.ErrNilInstance
	}
	if len(frame) != codec.FrameSize {
		return exception.ErrInvalidArgument
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return exception.ErrChannelClosed
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one full frame into buf, allocating when buf is too small.
// A closed or broken peer surfaces as ErrPeerGone.
func (c *Channel) ReadFrame(buf []byte) ([]byte, error) {
	if c == nil {
		return nil, exception.ErrNilInstance
	}
	if cap(buf) < codec.FrameSize {
		buf = make([]byte, codec.FrameSize)
	} else {
		buf = buf[:codec.FrameSize]
	}
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return nil, exception.ErrPeerGone
		}
		return nil, err
	}
	return buf, nil
}

// Ack sends one acknowledgement frame.
func (c *Channel) Ack() error {
	return c.WriteFrame(codec.EncodeAck(nil))
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
