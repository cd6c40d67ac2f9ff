package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"dosgo/btSerial/dc"
)

// DefaultBaud is used when a tty name carries no "@baud" suffix.
const DefaultBaud = 9600

func init() {
	dc.Register("serial", dc.TransportSerial, func(ctx context.Context, dctx *dc.Context, name string) (dc.Port, error) {
		return OpenTTY(dctx, name)
	})
}

// parseTTYName splits "COM4@115200" or "/dev/rfcomm0" into a device name
// and baud rate.
func parseTTYName(name string) (string, int, error) {
	dev, baudStr, found := strings.Cut(name, "@")
	if dev == "" {
		return "", 0, fmt.Errorf("comm: empty serial device name: %w", dc.InvalidArgs)
	}
	if !found {
		return dev, DefaultBaud, nil
	}
	baud, err := strconv.Atoi(baudStr)
	if err != nil || baud <= 0 {
		return "", 0, fmt.Errorf("comm: bad baud rate %q: %w", baudStr, dc.InvalidArgs)
	}
	return dev, baud, nil
}

// ttyConn is the part of *serial.Port the backend uses.
type ttyConn interface {
	io.ReadWriteCloser
	Flush() error
}

var openTTYConn = func(cfg *serial.Config) (ttyConn, error) {
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// TTYPort is a local serial device, such as an rfcomm tty bound with the
// BlueZ tools or a Bluetooth COM port on Windows.
type TTYPort struct {
	mu   sync.Mutex
	cfg  serial.Config
	port ttyConn
	dctx *dc.Context
}

var (
	_ dc.Port            = (*TTYPort)(nil)
	_ dc.AvailableReader = (*TTYPort)(nil)
)

// OpenTTY opens the device named "dev[@baud]" with blocking reads.
func OpenTTY(dctx *dc.Context, name string) (*TTYPort, error) {
	dev, baud, err := parseTTYName(name)
	if err != nil {
		return nil, err
	}
	t := &TTYPort{
		cfg:  serial.Config{Name: dev, Baud: baud},
		dctx: dctx,
	}
	port, err := t.open(t.cfg)
	if err != nil {
		return nil, err
	}
	t.port = port
	return t, nil
}

func (t *TTYPort) open(cfg serial.Config) (ttyConn, error) {
	port, err := openTTYConn(&cfg)
	if err != nil {
		t.dctx.Log("serial").WithField("device", cfg.Name).Debugf("open failed: %v", err)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("comm: open %s: %w: %w", cfg.Name, dc.NoDevice, err)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("comm: open %s: %w: %w", cfg.Name, dc.NoAccess, err)
		}
		return nil, fmt.Errorf("comm: open %s: %w: %w", cfg.Name, dc.IO, err)
	}
	return port, nil
}

func (t *TTYPort) conn() ttyConn {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// SetTimeout reopens the device, since tarm/serial fixes the read timeout
// when the port is opened. Negative and zero timeouts both block. If the
// reopen fails the previous settings are restored.
func (t *TTYPort) SetTimeout(timeout time.Duration) error {
	if t == nil {
		return dc.InvalidArgs
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return dc.InvalidArgs
	}
	if timeout < 0 {
		timeout = 0
	}
	if timeout == t.cfg.ReadTimeout {
		return nil
	}

	log := t.dctx.Log("serial").WithField("device", t.cfg.Name)
	t.port.Close()
	t.port = nil
	next := t.cfg
	next.ReadTimeout = timeout
	port, err := t.open(next)
	if err == nil {
		t.cfg, t.port = next, port
		return nil
	}
	log.Warnf("reopen with timeout %s failed: %v", timeout, err)

	prev, rerr := t.open(t.cfg)
	if rerr != nil {
		log.Errorf("restoring port failed, handle is unusable: %v", rerr)
		return err
	}
	t.port = prev
	return err
}

func (t *TTYPort) Read(ctx context.Context, p []byte) (int, error) {
	port := t.conn()
	if port == nil {
		return 0, dc.InvalidArgs
	}
	nbytes := 0
	for nbytes < len(p) {
		n, err := readTTY(ctx, port, p[nbytes:])
		if err != nil {
			return 0, err
		}
		nbytes += n
	}
	return nbytes, nil
}

// ReadAvailable returns what a single read delivers, at least one byte.
func (t *TTYPort) ReadAvailable(ctx context.Context, p []byte) (int, error) {
	port := t.conn()
	if port == nil {
		return 0, dc.InvalidArgs
	}
	return readTTY(ctx, port, p)
}

// readTTY performs one read of at least one byte, retrying interrupted
// calls.
func readTTY(ctx context.Context, port ttyConn, p []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("comm: read: %w: %w", dc.Cancelled, err)
		}
		n, err := port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			// A read timeout surfaces as an empty read.
			return 0, fmt.Errorf("comm: read: %w", dc.Timeout)
		}
		if retryable(err) {
			continue
		}
		return 0, fmt.Errorf("comm: read: %w: %w", dc.IO, err)
	}
}

func (t *TTYPort) Write(ctx context.Context, p []byte) (int, error) {
	port := t.conn()
	if port == nil {
		return 0, dc.InvalidArgs
	}
	nbytes := 0
	for nbytes < len(p) {
		n, err := port.Write(p[nbytes:])
		if err != nil {
			if retryable(err) {
				continue
			}
			return 0, fmt.Errorf("comm: write: %w: %w", dc.IO, err)
		}
		if n == 0 {
			break
		}
		nbytes += n
	}
	return nbytes, nil
}

// Flush discards both queues; tarm/serial cannot flush them separately.
func (t *TTYPort) Flush(dir dc.Direction) error {
	port := t.conn()
	if port == nil {
		return dc.InvalidArgs
	}
	if err := port.Flush(); err != nil {
		return fmt.Errorf("comm: flush: %w: %w", dc.IO, err)
	}
	return nil
}

func (t *TTYPort) Received() (int, error) {
	if t.conn() == nil {
		return 0, dc.InvalidArgs
	}
	return 0, dc.Unsupported
}

func (t *TTYPort) Transmitted() (int, error) {
	if t.conn() == nil {
		return 0, dc.InvalidArgs
	}
	return 0, dc.Unsupported
}

func (t *TTYPort) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
