package exception

import "errors"

// Control channel errors
var (
	// ErrEmptyPathSocket is returned when a socket path is empty.
	ErrEmptyPathSocket = errors.New("control: empty socket path")

	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("control: channel closed")

	// ErrPeerGone is returned when the remote end of the channel closed the
	// connection before the expected sentinel.
	ErrPeerGone = errors.New("control: peer gone")

	// ErrBadFrame is returned when a received frame cannot be decoded.
	ErrBadFrame = errors.New("control: bad frame")

	// ErrUnexpectedMessage is returned when a frame kind is not valid for
	// the current protocol phase.
	ErrUnexpectedMessage = errors.New("control: unexpected message in phase")
)
