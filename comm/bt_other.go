//go:build !linux && !windows

package comm

import (
	"context"
	"errors"
)

var errRFCOMMUnsupported = errors.New("comm: rfcomm sockets are not supported on this platform")

func dialRFCOMM(ctx context.Context, addr Address, channel uint8) (rfcommConn, int, error) {
	return nil, -1, errRFCOMMUnsupported
}

func classifyError(err error) SocketError {
	if errors.Is(err, errRFCOMMUnsupported) {
		return OperationError
	}
	return UnknownSocketError
}

func outQueue(fd int) int { return 0 }
