// Package control implements the duplex control channel between the
// supervising service and one worker process: a unix domain socket carrying
// fixed-width frames, the per-payload acknowledgement discipline of the
// handshake phases, and the two-stage worker termination sequence.
package control

import (
	"errors"
	"net"
	"os"
	"time"

	"tradeagent/pkg/exception"
)

const unixNetwork = "unix"

var (
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("control: already listening")
	// ErrNotListening is returned when Accept is called before Listen.
	ErrNotListening = errors.New("control: not listening")
	// ErrPathNotSocket is returned when the socket path exists and is not a socket.
	ErrPathNotSocket = errors.New("control: path exists and is not a socket")
)

// Listener accepts the worker's control connection. One listener serves
// exactly one live worker at a time.
type Listener struct {
	addr net.UnixAddr
	ln   *net.UnixListener
}

// NewListener creates a listener for the provided socket path.
func NewListener(path string) (*Listener, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathSocket
	}
	return &Listener{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (l *Listener) Path() string {
	if l == nil {
		return ""
	}
	return l.addr.Name
}

// Listen starts listening, removing a stale socket file when present.
func (l *Listener) Listen() error {
	if l == nil {
		return exception.ErrNilInstance
	}
	if l.ln != nil {
		return ErrAlreadyListening
	}
	if err := removeStaleSocket(l.addr.Name); err != nil {
		return err
	}
	ln, err := net.ListenUnix(unixNetwork, &l.addr)
	if err != nil {
		return err
	}
	ln.SetUnlinkOnClose(true)
	l.ln = ln
	return nil
}

// Accept waits for the worker to connect.
func (l *Listener) Accept() (net.Conn, error) {
	if l == nil {
		return nil, exception.ErrNilInstance
	}
	if l.ln == nil {
		return nil, ErrNotListening
	}
	return l.ln.AcceptUnix()
}

// Close stops the listener.
func (l *Listener) Close() error {
	if l == nil || l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}

// Dial connects the worker to the supervisor's socket, retrying until the
// listener appears or the attempt budget runs out. The supervisor spawns the
// worker right after binding, so a couple of retries cover startup skew.
func Dial(path string, attempts int, backoff time.Duration) (net.Conn, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathSocket
	}
	if attempts <= 0 {
		attempts = 1
	}
	addr := net.UnixAddr{Name: path, Net: unixNetwork}
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.DialUnix(unixNetwork, nil, &addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(backoff)
	}
	return nil, lastErr
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	return os.Remove(path)
}
