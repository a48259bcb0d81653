package usbdo96

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange         = errors.New("channel out of range")
	ErrConflictingRequest = errors.New("channel requested both on and off")
	ErrNotOpen            = errors.New("serial session not open")
	ErrDeviceNotFound     = errors.New("no USBDO96 device found")
	ErrAmbiguousDevice    = errors.New("more than one USBDO96 device found")

	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("transport failure")
)

// TransportError reports a failed open, send or close on the underlying
// transport. Frame is set for send failures only.
type TransportError struct {
	Op    string
	Frame *CommandFrame
	Err   error
}

func (e *TransportError) Error() string {
	if e.Frame != nil {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Frame, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
