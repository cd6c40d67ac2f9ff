package comm

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosgo/btSerial/dc"
)

var errRefused = errors.New("connection refused")

func testClassify(err error) SocketError {
	if errors.Is(err, errRefused) {
		return HostNotFoundError
	}
	return UnknownSocketError
}

// pipeSocket returns a socket whose dialer hands out one end of a pipe and
// the peer end for the test to drive.
func pipeSocket(t *testing.T) (*socket, net.Conn) {
	local, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })
	dial := func(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
		return local, 3, nil
	}
	return newSocket(dial, testClassify, func(int) int { return 0 }), peer
}

func connectSocket(t *testing.T, s *socket) {
	s.ConnectToService(Address{0, 0x11, 0x22, 0x33, 0x44, 0x55}, 1)
	require.NoError(t, awaitSettled(context.Background(), s, time.Second))
	require.Equal(t, StateConnected, s.State())
}

func TestSocketConnectAndRead(t *testing.T) {
	s, peer := pipeSocket(t)
	defer s.Close()
	assert.Equal(t, -1, s.Descriptor())

	connectSocket(t, s)
	assert.Equal(t, 3, s.Descriptor())
	assert.Equal(t, NoSocketError, s.Error())

	n, err := s.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	go peer.Write([]byte("hello"))
	assert.True(t, s.WaitForReadyRead(context.Background(), time.Second))
	require.Eventually(t, func() bool { return s.BytesAvailable() == 5 }, time.Second, 5*time.Millisecond)

	buf := make([]byte, 8)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, 0, s.BytesAvailable())
}

func TestSocketWrite(t *testing.T) {
	s, peer := pipeSocket(t)
	defer s.Close()
	connectSocket(t, s)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := io.ReadFull(peer, buf)
		got <- string(buf[:n])
	}()

	n, err := s.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ping", <-got)
	assert.Equal(t, 0, s.BytesToWrite())
}

func TestSocketRemoteClose(t *testing.T) {
	s, peer := pipeSocket(t)
	defer s.Close()
	connectSocket(t, s)

	peer.Close()
	require.Eventually(t, func() bool { return s.State() == StateUnconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, RemoteHostClosedError, s.Error())
	assert.Equal(t, -1, s.Descriptor())
	assert.False(t, s.WaitForReadyRead(context.Background(), 10*time.Millisecond))

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Write([]byte{1})
	assert.ErrorIs(t, err, errNotConnected)
}

func TestSocketDialFailure(t *testing.T) {
	dial := func(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
		return nil, -1, errRefused
	}
	s := newSocket(dial, testClassify, func(int) int { return 0 })
	s.ConnectToService(Address{}, 1)
	require.NoError(t, awaitSettled(context.Background(), s, time.Second))

	assert.Equal(t, StateUnconnected, s.State())
	assert.Equal(t, HostNotFoundError, s.Error())
	assert.Equal(t, -1, s.Descriptor())

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errRefused)
}

func TestSocketReconnectDiscardsStaleAttempt(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()

	dial := func(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
		if channel == 1 {
			<-ctx.Done()
			return nil, -1, ctx.Err()
		}
		return local, 9, nil
	}
	s := newSocket(dial, testClassify, func(int) int { return 0 })
	defer s.Close()

	s.ConnectToService(Address{}, 1)
	s.ConnectToService(Address{}, 5)

	require.NoError(t, awaitSettled(context.Background(), s, time.Second))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 9, s.Descriptor())

	// The cancelled first attempt must not overwrite the live connection.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 9, s.Descriptor())
}

func TestSocketClose(t *testing.T) {
	s, peer := pipeSocket(t)
	connectSocket(t, s)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateUnconnected, s.State())
	assert.Equal(t, -1, s.Descriptor())

	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSocketWaitTimesOut(t *testing.T) {
	s, _ := pipeSocket(t)
	defer s.Close()
	connectSocket(t, s)

	start := time.Now()
	assert.False(t, s.WaitForReadyRead(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.WaitForReadyRead(ctx, -1))
}

func TestSocketPortOverPipe(t *testing.T) {
	s, peer := pipeSocket(t)
	o := &Options{
		ConnectTimeout:     time.Second,
		SlowConnectTimeout: time.Second,
		NewEndpoint:        func() Endpoint { return s },
	}
	p, err := OpenPort(context.Background(), nil, testAddr, o)
	require.NoError(t, err)
	defer p.Close()

	go peer.Write([]byte{0x01, 0x02, 0x03})
	buf := make([]byte, 3)
	n, err := p.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf)

	go io.ReadFull(peer, make([]byte, 2))
	n, err = p.Write(context.Background(), []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func pipePort(t *testing.T) (*Port, net.Conn) {
	s, peer := pipeSocket(t)
	o := &Options{NewEndpoint: func() Endpoint { return s }}
	p, err := OpenPort(context.Background(), nil, testAddr, o)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, peer
}

func TestPortWriteTimesOutOnStalledLink(t *testing.T) {
	p, peer := pipePort(t)
	require.NoError(t, p.SetTimeout(50*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nobody reads the device end, so the write cannot complete.
	start := time.Now()
	n, err := p.Write(ctx, []byte("hello"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, dc.Timeout)
	assert.Less(t, time.Since(start), time.Second)

	// The deadline is cleared afterwards, so a later write goes through.
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		io.ReadFull(peer, buf)
		got <- buf
	}()
	require.NoError(t, p.SetTimeout(-1))
	n, err = p.Write(context.Background(), []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ok", string(<-got))
}

func TestPortWriteCancelledOnStalledLink(t *testing.T) {
	p, _ := pipePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := p.Write(ctx, []byte("hello"))
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, dc.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Write still blocked after cancel")
	}
}

func TestPortCloseEndsPendingIO(t *testing.T) {
	p, _ := pipePort(t)

	readDone := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background(), make([]byte, 4))
		readDone <- err
	}()
	writeDone := make(chan error, 1)
	go func() {
		_, err := p.Write(context.Background(), []byte("stalled"))
		writeDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	for _, ch := range []chan error{readDone, writeDone} {
		select {
		case err := <-ch:
			assert.ErrorIs(t, err, dc.IO)
		case <-time.After(2 * time.Second):
			t.Fatal("I/O still pending after Close")
		}
	}
	_, err := p.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, dc.InvalidArgs)
}
