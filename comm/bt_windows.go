package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var modws2_32 = windows.NewLazySystemDLL("ws2_32.dll")
var procConnect = modws2_32.NewProc("connect")

const (
	afBTH          = 32
	bthprotoRFCOMM = 3
	sockaddrBTHLen = 30
	soSndTimeo     = 0x1005
)

// Winsock error codes not exported by x/sys/windows.
const (
	wsaeProtoNoSupport syscall.Errno = 10043
	wsaeOpNotSupp      syscall.Errno = 10045
	wsaeAFNoSupport    syscall.Errno = 10047
	wsaeNetDown        syscall.Errno = 10050
	wsaeNetUnreach     syscall.Errno = 10051
	wsaeConnAborted    syscall.Errno = 10053
	wsaeConnReset      syscall.Errno = 10054
	wsaeNotConn        syscall.Errno = 10057
	wsaeTimedOut       syscall.Errno = 10060
	wsaeConnRefused    syscall.Errno = 10061
	wsaeHostDown       syscall.Errno = 10064
	wsaeHostUnreach    syscall.Errno = 10065
	wsaeAccess         syscall.Errno = 10013
)

func dialRFCOMM(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
	fd, err := windows.Socket(afBTH, windows.SOCK_STREAM, bthprotoRFCOMM)
	if err != nil {
		return nil, -1, fmt.Errorf("comm: create rfcomm socket: %w", err)
	}

	// SOCKADDR_BTH packed by hand to dodge Go's struct padding:
	// Family(2) + Addr(8) + GUID(16) + Port(4) = 30 bytes. With a non-zero
	// port the service GUID is ignored and no SDP lookup happens.
	rawSa := make([]byte, sockaddrBTHLen)
	*(*uint16)(unsafe.Pointer(&rawSa[0])) = afBTH
	*(*uint64)(unsafe.Pointer(&rawSa[2])) = addr.uint64()
	*(*uint32)(unsafe.Pointer(&rawSa[26])) = uint32(channel)

	done := make(chan error, 1)
	go func() {
		ptr := uintptr(unsafe.Pointer(&rawSa[0]))
		r1, _, err := procConnect.Call(uintptr(fd), ptr, uintptr(sockaddrBTHLen))
		if r1 != 0 {
			done <- err
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		// closesocket aborts the blocking connect.
		windows.Closesocket(fd)
		<-done
		return nil, -1, ctx.Err()
	case err := <-done:
		if err != nil {
			windows.Closesocket(fd)
			return nil, -1, err
		}
	}
	return &rawBtSocket{fd: fd}, int(fd), nil
}

func classifyError(err error) SocketError {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return UnknownSocketError
	}
	switch errno {
	case wsaeHostDown, wsaeHostUnreach:
		return HostNotFoundError
	case wsaeConnRefused:
		return ServiceNotFoundError
	case wsaeProtoNoSupport, wsaeAFNoSupport:
		return UnsupportedProtocolError
	case wsaeOpNotSupp, wsaeAccess:
		return OperationError
	case wsaeTimedOut, wsaeNetDown, wsaeNetUnreach, wsaeConnReset, wsaeConnAborted, wsaeNotConn:
		return NetworkError
	}
	return UnknownSocketError
}

// Winsock has no portable outgoing-queue query.
func outQueue(fd int) int { return 0 }

// rawBtSocket is a blocking Winsock RFCOMM socket.
type rawBtSocket struct {
	fd windows.Handle
}

func (s *rawBtSocket) Read(p []byte) (int, error) {
	if s.fd == windows.InvalidHandle {
		return 0, io.EOF
	}

	var buf windows.WSABuf
	buf.Len = uint32(len(p))
	if buf.Len == 0 {
		return 0, nil
	}
	buf.Buf = &p[0]

	var done uint32
	var flags uint32
	err := windows.WSARecv(s.fd, &buf, 1, &done, &flags, nil, nil)
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}

	// Zero bytes on a blocking socket means the peer closed.
	if done == 0 {
		return 0, io.EOF
	}
	return int(done), nil
}

func (s *rawBtSocket) Write(p []byte) (int, error) {
	if s.fd == windows.InvalidHandle {
		return 0, syscall.EINVAL
	}

	var totalSent int
	for totalSent < len(p) {
		var done uint32
		var buf windows.WSABuf
		remaining := p[totalSent:]
		buf.Len = uint32(len(remaining))
		buf.Buf = &remaining[0]

		err := windows.WSASend(s.fd, &buf, 1, &done, 0, nil, nil)
		if err != nil {
			if err == windows.WSAEWOULDBLOCK {
				return totalSent, syscall.EAGAIN
			}
			if errors.Is(err, wsaeTimedOut) {
				return totalSent, os.ErrDeadlineExceeded
			}
			return totalSent, err
		}
		if done == 0 {
			break
		}
		totalSent += int(done)
	}
	return totalSent, nil
}

// SetWriteDeadline maps t onto SO_SNDTIMEO. Winsock applies the option per
// send call, so a send already blocked keeps its old bound.
func (s *rawBtSocket) SetWriteDeadline(t time.Time) error {
	ms := 0
	if !t.IsZero() {
		ms = int(time.Until(t) / time.Millisecond)
		if ms < 1 {
			ms = 1
		}
	}
	return windows.SetsockoptInt(s.fd, windows.SOL_SOCKET, soSndTimeo, ms)
}

func (s *rawBtSocket) Close() error {
	if s.fd != windows.InvalidHandle {
		windows.Closesocket(s.fd)
		s.fd = windows.InvalidHandle
	}
	return nil
}
