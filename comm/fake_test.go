package comm

import (
	"context"
	"sync"
	"syscall"
	"time"
)

// attempt scripts how a connection on one channel resolves.
type attempt struct {
	after time.Duration // negative: never resolves
	state State
	err   SocketError
}

// fakeEndpoint is a scripted Endpoint for exercising the adapter without
// Bluetooth hardware.
type fakeEndpoint struct {
	mu       sync.Mutex
	script   map[uint8]attempt
	channels []uint8
	state    State
	err      SocketError
	fd       int
	closed   int
	timer    *time.Timer

	// I/O scripting
	reads     []readResult
	stuck     error // returned by every Read when set
	writes    []writeResult
	written   []byte
	deadlines []time.Time
	avail     int
	toWrite   int

	changed   chan struct{}
	readyRead chan struct{}
}

type readResult struct {
	data []byte
	err  error
}

type writeResult struct {
	n   int // -1 accepts everything
	err error
}

func newFakeEndpoint(script map[uint8]attempt) *fakeEndpoint {
	return &fakeEndpoint{
		script:    script,
		fd:        -1,
		changed:   make(chan struct{}, 1),
		readyRead: make(chan struct{}, 1),
	}
}

// connectedFake returns an endpoint that is already connected.
func connectedFake() *fakeEndpoint {
	f := newFakeEndpoint(nil)
	f.state = StateConnected
	f.fd = 7
	return f
}

func (f *fakeEndpoint) ConnectToService(addr Address, channel uint8) {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.state = StateConnecting
	f.err = NoSocketError
	a, ok := f.script[channel]
	if !ok {
		a = attempt{after: 0, state: StateUnconnected, err: ServiceNotFoundError}
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	if a.after >= 0 {
		f.timer = time.AfterFunc(a.after, func() {
			f.mu.Lock()
			f.state = a.state
			f.err = a.err
			if a.state == StateConnected {
				f.fd = 7
			}
			f.mu.Unlock()
			signal(f.changed)
		})
	}
	f.mu.Unlock()
	signal(f.changed)
}

func (f *fakeEndpoint) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEndpoint) Error() SocketError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeEndpoint) StateChanged() <-chan struct{} { return f.changed }
func (f *fakeEndpoint) ReadyRead() <-chan struct{}    { return f.readyRead }

func (f *fakeEndpoint) Descriptor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

func (f *fakeEndpoint) BytesAvailable() int { return f.avail }
func (f *fakeEndpoint) BytesToWrite() int   { return f.toWrite }

func (f *fakeEndpoint) queued() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads) > 0 || f.stuck != nil
}

func (f *fakeEndpoint) WaitForReadyRead(ctx context.Context, timeout time.Duration) bool {
	expired, stop := timerChan(timeout)
	defer stop()
	for !f.queued() {
		select {
		case <-f.readyRead:
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (f *fakeEndpoint) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines = append(f.deadlines, t)
	return nil
}

// deliver queues data and raises the ready-read signal, as a late arrival.
func (f *fakeEndpoint) deliver(data []byte) {
	f.mu.Lock()
	f.reads = append(f.reads, readResult{data: data})
	f.mu.Unlock()
	signal(f.readyRead)
}

func (f *fakeEndpoint) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuck != nil {
		return 0, f.stuck
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	r := &f.reads[0]
	if r.err != nil {
		f.reads = f.reads[1:]
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	if len(r.data) == 0 {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakeEndpoint) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		f.written = append(f.written, p...)
		return len(p), nil
	}
	w := f.writes[0]
	f.writes = f.writes[1:]
	if w.err != nil {
		return 0, w.err
	}
	n := w.n
	if n < 0 || n > len(p) {
		n = len(p)
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.timer != nil {
		f.timer.Stop()
	}
	f.state = StateUnconnected
	f.fd = -1
	return nil
}

var (
	errEINTR  error = syscall.EINTR
	errEAGAIN error = syscall.EAGAIN
	errEIO    error = syscall.EIO
)
