// Package dc models the transport contract of the dive-computer download
// library: status codes, the serial operations every backend implements,
// the generic serial handle and the backend registry.
package dc

import (
	"errors"
	"fmt"
)

// Status is the status code space shared by every transport backend.
// A Status other than Success is an error, and transports wrap it so
// callers can use errors.Is(err, dc.NoDevice).
type Status int

const (
	Success     Status = 0
	Unsupported Status = -1
	InvalidArgs Status = -2
	NoMemory    Status = -3
	NoDevice    Status = -4
	NoAccess    Status = -5
	IO          Status = -6
	Timeout     Status = -7
	Protocol    Status = -8
	DataFormat  Status = -9
	Cancelled   Status = -10
)

var statusText = map[Status]string{
	Success:     "success",
	Unsupported: "unsupported operation",
	InvalidArgs: "invalid arguments",
	NoMemory:    "out of memory",
	NoDevice:    "no device found",
	NoAccess:    "access denied",
	IO:          "input/output error",
	Timeout:     "timeout",
	Protocol:    "protocol error",
	DataFormat:  "data format error",
	Cancelled:   "cancelled",
}

func (s Status) Error() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

func (s Status) String() string { return s.Error() }

// StatusOf returns the Status carried by err, Success for nil and IO for
// errors that carry none.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return IO
}
