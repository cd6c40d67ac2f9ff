package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"dosgo/btSerial/dc"
)

// Bridge exposes an open serial handle over TCP, one client at a time, so
// desktop download software can reach a device paired with this machine.
//
// The serial side is read and written from separate goroutines during a
// session. Close ends the running session and waits for it, so the serial
// handle can be closed safely afterwards.
type Bridge struct {
	serial *dc.Serial
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

var (
	errBridgeClosed       = errors.New("comm: bridge closed")
	errBridgeNotListening = errors.New("comm: bridge not listening")
)

func NewBridge(dctx *dc.Context, s *dc.Serial) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{serial: s, log: dctx.Log("bridge"), ctx: ctx, cancel: cancel}
}

// enter registers a Serve or Dial call and returns a context that ends
// with either ctx or the bridge.
func (b *Bridge) enter(ctx context.Context) (context.Context, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return nil, nil, errBridgeClosed
	}
	b.wg.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		b.wg.Done()
	}, nil
}

// Listen binds the TCP listener. Serve must be called to accept clients.
func (b *Bridge) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("comm: bridge listen %s: %w", addr, err)
	}
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
	b.log.Infof("bridge listening on %s", l.Addr())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Serve accepts clients until ctx is done or the bridge is closed. Clients
// are served one after another; the serial link is a single stream.
func (b *Bridge) Serve(ctx context.Context) error {
	b.mu.Lock()
	l := b.listener
	b.mu.Unlock()
	if l == nil {
		return errBridgeNotListening
	}
	defer l.Close()

	ctx, leave, err := b.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	tl, _ := l.(*net.TCPListener)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		// Short accept deadline so ctx is checked regularly.
		if tl != nil {
			tl.SetDeadline(time.Now().Add(1 * time.Second))
		}
		conn, err := l.Accept()
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.log.Warnf("accept failed: %v", err)
			continue
		}
		b.log.Infof("client connected: %s", conn.RemoteAddr())
		b.session(ctx, conn)
		b.log.Infof("client disconnected: %s", conn.RemoteAddr())
	}
}

// Dial connects out to addr, through the SOCKS5 proxy socks5 when it is
// not empty, and pipes the serial link over that connection until either
// side ends.
func (b *Bridge) Dial(ctx context.Context, addr, socks5 string) error {
	ctx, leave, err := b.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	var dialer proxy.Dialer = proxy.Direct
	if socks5 != "" {
		d, err := proxy.SOCKS5("tcp", socks5, nil, proxy.Direct)
		if err != nil {
			return fmt.Errorf("comm: socks5 %s: %w", socks5, err)
		}
		dialer = d
	}
	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("comm: bridge dial %s: %w", addr, err)
	}
	b.log.Infof("connected to %s", addr)
	b.session(ctx, conn)
	return nil
}

// session pipes conn and the serial link in both directions and returns
// once either direction stops.
func (b *Bridge) session(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()
	// Unblocks the TCP reader when the bridge or the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	done := make(chan struct{}, 2)

	// TCP -> serial
	go func() {
		if _, err := io.Copy(b.serial.Writer(ctx), conn); err != nil && ctx.Err() == nil {
			b.log.Debugf("tcp->serial: %v", err)
		}
		done <- struct{}{}
	}()

	// serial -> TCP
	go func() {
		if err := b.copyFromSerial(ctx, conn); err != nil && ctx.Err() == nil {
			b.log.Debugf("serial->tcp: %v", err)
		}
		done <- struct{}{}
	}()

	<-done
	cancel()
	conn.Close()
	// A tty read without a timeout cannot be interrupted; give up waiting
	// for it rather than wedging the accept loop.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.log.Debug("serial reader still blocked after session end")
	}
}

// copyFromSerial forwards serial data to w. Read timeouts only mean the
// device was quiet and do not end the session.
func (b *Bridge) copyFromSerial(ctx context.Context, w io.Writer) error {
	r := b.serial.Reader(ctx)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, dc.Timeout) && ctx.Err() == nil {
				continue
			}
			return err
		}
	}
}

// Close stops accepting clients, ends the running session and waits for
// Serve and Dial to return.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.cancel()
	l := b.listener
	b.listener = nil
	b.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
		if errors.Is(err, net.ErrClosed) {
			// Serve already closed it.
			err = nil
		}
	}
	b.wg.Wait()
	return err
}
