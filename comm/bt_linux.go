package comm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dialRFCOMM opens an AF_BLUETOOTH/SOCK_STREAM/BTPROTO_RFCOMM socket and
// connects it without blocking the goroutine in connect(2), so the attempt
// can be abandoned through ctx.
func dialRFCOMM(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, -1, fmt.Errorf("comm: create rfcomm socket: %w", err)
	}

	// The kernel keeps BD_ADDR in reversed byte order.
	sa := &unix.SockaddrRFCOMM{
		Addr:    addr.bdaddr(),
		Channel: channel,
	}

	err = unix.Connect(fd, sa)
	if errors.Is(err, unix.EINPROGRESS) {
		err = waitConnected(ctx, fd)
	}
	if err != nil {
		unix.Close(fd)
		return nil, -1, err
	}

	// fd is non-blocking, so os.NewFile hands it to the runtime poller:
	// Close unblocks a pending Read and write deadlines are honoured.
	return os.NewFile(uintptr(fd), "rfcomm"), fd, nil
}

func waitConnected(ctx context.Context, fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 100)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return unix.Errno(soerr)
		}
		return nil
	}
}

func classifyError(err error) SocketError {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return UnknownSocketError
	}
	switch errno {
	case unix.EHOSTDOWN, unix.EHOSTUNREACH:
		return HostNotFoundError
	case unix.ECONNREFUSED:
		return ServiceNotFoundError
	case unix.EPROTONOSUPPORT, unix.EAFNOSUPPORT, unix.ESOCKTNOSUPPORT:
		return UnsupportedProtocolError
	case unix.EOPNOTSUPP, unix.EACCES, unix.EPERM:
		return OperationError
	case unix.ETIMEDOUT, unix.ENETDOWN, unix.ENETUNREACH, unix.ECONNRESET,
		unix.ECONNABORTED, unix.EIO, unix.EBUSY, unix.ENOTCONN:
		return NetworkError
	}
	return UnknownSocketError
}

// outQueue reports bytes queued in the kernel but not yet sent.
func outQueue(fd int) int {
	n, err := unix.IoctlGetInt(fd, unix.TIOCOUTQ)
	if err != nil {
		return 0
	}
	return n
}
