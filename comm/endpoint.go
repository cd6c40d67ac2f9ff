package comm

import (
	"context"
	"time"
)

// State is the connection state of an Endpoint.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "invalid"
}

// SocketError is the last error an Endpoint ran into.
type SocketError int

const (
	NoSocketError SocketError = iota
	UnknownSocketError
	HostNotFoundError
	ServiceNotFoundError
	NetworkError
	UnsupportedProtocolError
	OperationError
	RemoteHostClosedError
)

func (e SocketError) String() string {
	switch e {
	case NoSocketError:
		return "no error"
	case HostNotFoundError:
		return "host not found"
	case ServiceNotFoundError:
		return "service not found"
	case NetworkError:
		return "network error"
	case UnsupportedProtocolError:
		return "unsupported protocol"
	case OperationError:
		return "operation error"
	case RemoteHostClosedError:
		return "remote host closed"
	}
	return "unknown socket error"
}

// Endpoint is a connection-oriented RFCOMM socket. ConnectToService starts
// an attempt and returns at once; progress is reported through State,
// Error and a signal on StateChanged.
//
// Signal channels have room for one pending notification, so a waiter
// must re-check State or BytesAvailable after waking.
type Endpoint interface {
	ConnectToService(addr Address, channel uint8)
	State() State
	Error() SocketError
	StateChanged() <-chan struct{}
	ReadyRead() <-chan struct{}

	// Descriptor returns the OS socket handle, or -1 when there is none.
	Descriptor() int
	BytesAvailable() int
	BytesToWrite() int

	// WaitForReadyRead blocks up to timeout (negative blocks indefinitely)
	// or until ctx is done.
	WaitForReadyRead(ctx context.Context, timeout time.Duration) bool

	// SetWriteDeadline bounds pending and future Write calls. A Write
	// that runs out of time fails with os.ErrDeadlineExceeded. The zero
	// time removes the bound.
	SetWriteDeadline(t time.Time) error

	// Read returns 0 and a nil error when nothing is buffered yet.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}
