package dc

import (
	"context"
	"io"
	"time"
)

// Port is the set of serial operations a transport backend provides.
//
// Read fills p completely or fails; it never reports a partial count.
// Write may return fewer than len(p) bytes without an error when the
// underlying link accepts nothing more. A negative timeout blocks
// indefinitely.
type Port interface {
	SetTimeout(timeout time.Duration) error
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Flush(dir Direction) error
	Received() (int, error)
	Transmitted() (int, error)
	Close() error
}

// AvailableReader is implemented by backends that cannot report how many
// bytes are buffered but can return whatever arrives in a single read.
// ReadAvailable blocks until at least one byte is read or the port timeout
// expires, and returns up to len(p) bytes.
type AvailableReader interface {
	ReadAvailable(ctx context.Context, p []byte) (int, error)
}

// Serial is the generic serial handle handed to download code. It pairs a
// backend Port with the transport kind the backend runs over.
type Serial struct {
	Type Transport
	port Port
}

// NewSerial wraps port as a handle of the given transport kind.
func NewSerial(t Transport, port Port) *Serial {
	return &Serial{Type: t, port: port}
}

// Port returns the backend port, or nil once the handle is closed.
func (s *Serial) Port() Port {
	if s == nil {
		return nil
	}
	return s.port
}

func (s *Serial) SetTimeout(timeout time.Duration) error {
	if s == nil || s.port == nil {
		return InvalidArgs
	}
	return s.port.SetTimeout(timeout)
}

func (s *Serial) Read(ctx context.Context, p []byte) (int, error) {
	if s == nil || s.port == nil {
		return 0, InvalidArgs
	}
	return s.port.Read(ctx, p)
}

func (s *Serial) Write(ctx context.Context, p []byte) (int, error) {
	if s == nil || s.port == nil {
		return 0, InvalidArgs
	}
	return s.port.Write(ctx, p)
}

func (s *Serial) Flush(dir Direction) error {
	if s == nil || s.port == nil {
		return InvalidArgs
	}
	return s.port.Flush(dir)
}

func (s *Serial) Received() (int, error) {
	if s == nil || s.port == nil {
		return 0, InvalidArgs
	}
	return s.port.Received()
}

func (s *Serial) Transmitted() (int, error) {
	if s == nil || s.port == nil {
		return 0, InvalidArgs
	}
	return s.port.Transmitted()
}

// Close releases the backend port. Closing a nil or already closed handle
// succeeds and does nothing.
func (s *Serial) Close() error {
	if s == nil || s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Reader returns an io.Reader over the handle bound to ctx. Each Read
// returns whatever is buffered, capped at len(p), and blocks for at least
// one byte when nothing is.
func (s *Serial) Reader(ctx context.Context) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		if len(p) == 0 {
			return 0, nil
		}
		if ar, ok := s.Port().(AvailableReader); ok {
			return ar.ReadAvailable(ctx, p)
		}
		n := 1
		if avail, err := s.Received(); err == nil && avail > 1 {
			n = min(avail, len(p))
		}
		return s.Read(ctx, p[:n])
	})
}

// Writer returns an io.Writer over the handle bound to ctx. A short write
// from the backend is reported as io.ErrShortWrite.
func (s *Serial) Writer(ctx context.Context) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		n, err := s.Write(ctx, p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		return n, err
	})
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
