package comm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"dosgo/btSerial/dc"
)

const (
	// DefaultConnectTimeout bounds the first wait on each channel.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultSlowConnectTimeout is the extra wait given to a channel that
	// is still negotiating when the first wait runs out.
	DefaultSlowConnectTimeout = 3 * DefaultConnectTimeout
)

// DefaultChannels are tried in order. Channel 1 is the usual SPP channel;
// some devices, such as the Shearwater Petrel 2, expose it on channel 5.
var DefaultChannels = []uint8{1, 5}

// Options tunes connection setup. The zero value uses the defaults.
type Options struct {
	Channels           []uint8
	ConnectTimeout     time.Duration
	SlowConnectTimeout time.Duration

	// IdleTimeout bounds the wait for more data when a read finds nothing
	// buffered and the port timeout blocks indefinitely. Zero waits until
	// data arrives, the link drops or the caller's context is done.
	IdleTimeout time.Duration

	// NewEndpoint creates the socket. Nil uses NewSocket.
	NewEndpoint func() Endpoint
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if len(out.Channels) == 0 {
		out.Channels = DefaultChannels
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.SlowConnectTimeout <= 0 {
		out.SlowConnectTimeout = DefaultSlowConnectTimeout
	}
	if out.NewEndpoint == nil {
		out.NewEndpoint = NewSocket
	}
	return out
}

// Port is an open Bluetooth RFCOMM connection presented as a serial port.
// One reader and one writer may use it at the same time, and Close may be
// called from any goroutine to end a pending Read or Write.
type Port struct {
	mu      sync.Mutex
	ep      Endpoint
	timeout time.Duration
	idle    time.Duration
	dctx    *dc.Context
}

var _ dc.Port = (*Port)(nil)

func init() {
	dc.Register("bluetooth", dc.TransportBluetooth, func(ctx context.Context, dctx *dc.Context, name string) (dc.Port, error) {
		return OpenPort(ctx, dctx, name, nil)
	})
}

// Open connects to the device at devaddr and returns a serial handle
// tagged as a Bluetooth transport.
func Open(ctx context.Context, dctx *dc.Context, devaddr string, opts *Options) (*dc.Serial, error) {
	port, err := OpenPort(ctx, dctx, devaddr, opts)
	if err != nil {
		return nil, err
	}
	return dc.NewSerial(dc.TransportBluetooth, port), nil
}

// OpenPort connects to devaddr, trying each configured channel in turn.
//
// Each channel gets ConnectTimeout to connect or fail. A channel still
// negotiating after that gets SlowConnectTimeout more and ends the search;
// a channel that failed outright moves on to the next one.
func OpenPort(ctx context.Context, dctx *dc.Context, devaddr string, opts *Options) (*Port, error) {
	o := opts.withDefaults()
	log := dctx.Log("bluetooth").WithField("addr", devaddr)

	addr, err := ParseAddress(devaddr)
	if err != nil {
		return nil, err
	}

	p := &Port{
		timeout: -1,
		idle:    o.IdleTimeout,
		dctx:    dctx,
	}
	ep := o.NewEndpoint()

	for i, ch := range o.Channels {
		ep.ConnectToService(addr, ch)
		if err := awaitSettled(ctx, ep, o.ConnectTimeout); err != nil {
			ep.Close()
			return nil, fmt.Errorf("comm: connect %s: %w: %w", addr, dc.Cancelled, err)
		}

		state := ep.State()
		if state == StateConnecting {
			log.WithField("channel", ch).Debugf("connection took more than expected, waiting another %s", o.SlowConnectTimeout)
			if err := awaitSettled(ctx, ep, o.SlowConnectTimeout); err != nil {
				ep.Close()
				return nil, fmt.Errorf("comm: connect %s: %w: %w", addr, dc.Cancelled, err)
			}
			break
		}
		if state != StateUnconnected {
			break
		}
		if i+1 < len(o.Channels) {
			log.WithField("channel", ch).Debugf("connection failed (%s), trying channel %d", ep.Error(), o.Channels[i+1])
		}
	}

	if ep.Descriptor() == -1 || ep.State() != StateConnected {
		state, sockErr := ep.State(), ep.Error()
		ep.Close()
		log.WithFields(logrus.Fields{
			"state": state.String(),
			"error": sockErr.String(),
		}).Debug("failed to connect to device")
		return nil, fmt.Errorf("comm: connect %s: %s: %w", addr, sockErr, connectStatus(state, sockErr))
	}

	p.ep = ep
	return p, nil
}

// awaitSettled waits until ep is connected or unconnected, d elapses, or
// ctx is done. Only the last case is an error.
func awaitSettled(ctx context.Context, ep Endpoint, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		switch ep.State() {
		case StateConnected, StateUnconnected:
			return nil
		}
		select {
		case <-ep.StateChanged():
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectStatus maps the final socket state and error to a status code.
func connectStatus(state State, err SocketError) dc.Status {
	if state == StateConnecting {
		return dc.Timeout
	}
	switch err {
	case HostNotFoundError, ServiceNotFoundError:
		return dc.NoDevice
	case UnsupportedProtocolError:
		return dc.Protocol
	case OperationError:
		return dc.Unsupported
	case NetworkError:
		return dc.IO
	}
	return dc.IO
}

// Close closes the connection. Closing a nil or closed port succeeds.
func (p *Port) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	ep := p.ep
	p.ep = nil
	p.mu.Unlock()
	if ep != nil {
		ep.Close()
	}
	return nil
}

// endpoint returns the live endpoint and timeout, or a nil endpoint once
// the port is closed.
func (p *Port) endpoint() (Endpoint, time.Duration) {
	if p == nil {
		return nil, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ep, p.timeout
}

// SetTimeout sets how long Read waits for data and Write waits for the
// link to accept it. A negative timeout blocks indefinitely; zero does
// not bound writes.
func (p *Port) SetTimeout(timeout time.Duration) error {
	if p == nil {
		return dc.InvalidArgs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ep == nil {
		return dc.InvalidArgs
	}
	p.timeout = timeout
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}

// readBound is how long a read may go without receiving anything.
// Negative means no bound.
func (p *Port) readBound(timeout time.Duration) time.Duration {
	if timeout >= 0 {
		return timeout
	}
	if p.idle > 0 {
		return p.idle
	}
	return -1
}

// remaining converts deadline back to a wait bound; a zero deadline
// means no bound.
func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return -1
	}
	return max(time.Until(deadline), 0)
}

// Read fills p or fails. On failure nothing is returned, even if part of p
// was already received. The timeout applies to each stretch without data.
func (p *Port) Read(ctx context.Context, buf []byte) (int, error) {
	ep, timeout := p.endpoint()
	if ep == nil {
		return 0, dc.InvalidArgs
	}

	bound := p.readBound(timeout)
	var deadline time.Time
	rearm := func() {
		if bound >= 0 {
			deadline = time.Now().Add(bound)
		}
	}
	rearm()

	nbytes := 0
	for nbytes < len(buf) {
		ep.WaitForReadyRead(ctx, remaining(deadline))

		n, err := ep.Read(buf[nbytes:])
		if err != nil {
			if retryable(err) {
				if ctx.Err() != nil {
					return 0, fmt.Errorf("comm: read: %w: %w", dc.Cancelled, ctx.Err())
				}
				continue
			}
			return 0, fmt.Errorf("comm: read: %w: %w", dc.IO, err)
		}
		if n == 0 {
			if err := awaitData(ctx, ep, deadline, bound); err != nil {
				return 0, err
			}
			continue
		}
		nbytes += n
		rearm()
	}
	return nbytes, nil
}

// awaitData blocks until ep signals new data or a state change, deadline
// passes, or ctx is done.
func awaitData(ctx context.Context, ep Endpoint, deadline time.Time, bound time.Duration) error {
	expired, stop := timerChan(remaining(deadline))
	defer stop()
	select {
	case <-ep.ReadyRead():
		return nil
	case <-ep.StateChanged():
		return nil
	case <-expired:
		return fmt.Errorf("comm: read: no data within %s: %w", bound, dc.Timeout)
	case <-ctx.Done():
		return fmt.Errorf("comm: read: %w: %w", dc.Cancelled, ctx.Err())
	}
}

// writeDeadline combines a positive port timeout with the ctx deadline.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// Write sends p and returns how much the link accepted. A zero-byte write
// from the endpoint ends the loop early without an error. When the link
// stops accepting data for longer than the timeout, Write returns the
// count sent so far with dc.Timeout; cancelling ctx aborts it with
// dc.Cancelled.
func (p *Port) Write(ctx context.Context, buf []byte) (int, error) {
	ep, timeout := p.endpoint()
	if ep == nil {
		return 0, dc.InvalidArgs
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("comm: write: %w: %w", dc.Cancelled, err)
	}

	ep.SetWriteDeadline(writeDeadline(ctx, timeout))
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		ep.SetWriteDeadline(time.Now())
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
		ep.SetWriteDeadline(time.Time{})
	}()

	nbytes := 0
	for nbytes < len(buf) {
		n, err := ep.Write(buf[nbytes:])
		if err != nil {
			if n > 0 {
				nbytes += n
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if ctx.Err() != nil {
					return nbytes, fmt.Errorf("comm: write: %w: %w", dc.Cancelled, ctx.Err())
				}
				return nbytes, fmt.Errorf("comm: write: link stalled: %w", dc.Timeout)
			}
			if retryable(err) {
				if ctx.Err() != nil {
					return nbytes, fmt.Errorf("comm: write: %w: %w", dc.Cancelled, ctx.Err())
				}
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

// Flush is not implemented for RFCOMM and always succeeds.
func (p *Port) Flush(dir dc.Direction) error {
	if ep, _ := p.endpoint(); ep == nil {
		return dc.InvalidArgs
	}
	return nil
}

// Received returns the number of bytes waiting to be read.
func (p *Port) Received() (int, error) {
	ep, _ := p.endpoint()
	if ep == nil {
		return 0, dc.InvalidArgs
	}
	return ep.BytesAvailable(), nil
}

// Transmitted returns the number of bytes still queued for sending.
func (p *Port) Transmitted() (int, error) {
	ep, _ := p.endpoint()
	if ep == nil {
		return 0, dc.InvalidArgs
	}
	return ep.BytesToWrite(), nil
}
