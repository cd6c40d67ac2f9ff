package comm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errNotConnected = errors.New("comm: socket not connected")

// rfcommConn is a connected RFCOMM stream whose writes can be bounded.
type rfcommConn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// dialFunc connects to addr on an RFCOMM channel. It returns the stream, the
// OS handle backing it, and honours ctx cancellation while connecting.
type dialFunc func(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error)

// socket is the Endpoint used on real hardware. A goroutine per connection
// attempt runs the platform dialer; once connected, a receive pump copies
// incoming data into rx so BytesAvailable and Read never block.
type socket struct {
	dial     dialFunc
	classify func(error) SocketError
	outq     func(fd int) int

	mu      sync.Mutex
	gen     uint64
	state   State
	err     SocketError
	cause   error
	conn    rfcommConn
	fd      int
	cancel  context.CancelFunc
	rx      bytes.Buffer

	changed   chan struct{}
	readyRead chan struct{}
}

// NewSocket returns an unconnected RFCOMM endpoint for this platform.
func NewSocket() Endpoint {
	return newSocket(dialRFCOMM, classifyError, outQueue)
}

func newSocket(dial dialFunc, classify func(error) SocketError, outq func(int) int) *socket {
	return &socket{
		dial:      dial,
		classify:  classify,
		outq:      outq,
		fd:        -1,
		changed:   make(chan struct{}, 1),
		readyRead: make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *socket) ConnectToService(addr Address, channel uint8) {
	s.mu.Lock()
	s.resetLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateConnecting
	s.err = NoSocketError
	s.cause = nil
	gen := s.gen
	s.mu.Unlock()
	signal(s.changed)

	go func() {
		conn, fd, err := s.dial(ctx, addr, channel)
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			s.state = StateUnconnected
			s.err = s.classify(err)
			s.cause = err
		} else {
			s.conn, s.fd = conn, fd
			s.state = StateConnected
			go s.pump(conn, gen)
		}
		s.mu.Unlock()
		signal(s.changed)
	}()
}

// resetLocked abandons any attempt or connection in progress.
func (s *socket) resetLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.fd = -1
	s.rx.Reset()
}

func (s *socket) pump(conn rfcommConn, gen uint64) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.rx.Write(buf[:n])
		}
		if err != nil {
			s.state = StateUnconnected
			s.cause = err
			if errors.Is(err, io.EOF) {
				s.err = RemoteHostClosedError
			} else {
				s.err = s.classify(err)
			}
			s.conn = nil
			s.fd = -1
			s.mu.Unlock()
			conn.Close()
			signal(s.readyRead)
			signal(s.changed)
			return
		}
		s.mu.Unlock()
		if n > 0 {
			signal(s.readyRead)
		}
	}
}

func (s *socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *socket) Error() SocketError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *socket) StateChanged() <-chan struct{} { return s.changed }

func (s *socket) ReadyRead() <-chan struct{} { return s.readyRead }

func (s *socket) Descriptor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

func (s *socket) BytesAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.Len()
}

func (s *socket) BytesToWrite() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return 0
	}
	return s.outq(s.fd)
}

func timerChan(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}

func (s *socket) WaitForReadyRead(ctx context.Context, timeout time.Duration) bool {
	expired, stop := timerChan(timeout)
	defer stop()
	for {
		s.mu.Lock()
		avail, state := s.rx.Len(), s.state
		s.mu.Unlock()
		if avail > 0 {
			return true
		}
		if state != StateConnected {
			return false
		}
		select {
		case <-s.readyRead:
		case <-s.changed:
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (s *socket) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.SetWriteDeadline(t)
}

func (s *socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rx.Len() > 0 {
		return s.rx.Read(p)
	}
	if s.state != StateConnected {
		if s.cause != nil {
			return 0, s.cause
		}
		return 0, errNotConnected
	}
	return 0, nil
}

func (s *socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || conn == nil {
		return 0, errNotConnected
	}
	// Writes go straight to the stream; the kernel queue is the only
	// outgoing buffer, reported by BytesToWrite.
	return conn.Write(p)
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.state == StateUnconnected && s.conn == nil && s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.resetLocked()
	s.state = StateUnconnected
	s.mu.Unlock()
	signal(s.changed)
	signal(s.readyRead)
	return nil
}
