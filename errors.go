package gxserialdemux

import (
	"errors"
	"os"
)

var (
	// ErrTimeout is returned by a handle read when no data arrived within
	// the configured read timeout.
	ErrTimeout = errors.New("read timeout")
	// ErrNotOpen is returned when the demux or one of its handles is used
	// before Open or after Close.
	ErrNotOpen = errors.New("serial demux not open")
	// ErrAlreadyOpen is returned when settings are changed while open.
	ErrAlreadyOpen = errors.New("serial demux already open")
	// ErrRunning is returned by Run when the relays are already running.
	ErrRunning = errors.New("serial demux already running")
	// ErrUnsupported is returned on platforms without pseudo-terminals.
	ErrUnsupported = errors.New("serial demux is not supported on this platform")
)

// Direction identifies one of the two relays.
type Direction int

const (
	// DeviceToEndpoint carries bytes read from the serial device.
	DeviceToEndpoint Direction = iota
	// EndpointToDevice carries bytes written by the debugger.
	EndpointToDevice
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case DeviceToEndpoint:
		return "device -> endpoint"
	case EndpointToDevice:
		return "endpoint -> device"
	}
	return "unknown"
}

// RelayError is reported through the error handler when a relay read or
// write fails. The relay keeps running after reporting it.
type RelayError struct {
	Direction Direction
	Err       error
}

func (e *RelayError) Error() string {
	return e.Direction.String() + ": " + e.Err.Error()
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a read timeout. Relays retry silently
// on these.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
