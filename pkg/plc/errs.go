package plc

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/factorykit/linewatch/pkg/mcproto"
)

var (
	// ErrDisconnected indicates the transport is not connected and
	// reconnection did not help.
	ErrDisconnected = errors.New("plc: disconnected")

	// ErrTimeout indicates an I/O deadline expired.
	ErrTimeout = errors.New("plc: timeout")

	// ErrProtocol indicates a malformed response or a device error code
	// from the CPU.
	ErrProtocol = errors.New("plc: protocol error")

	// ErrConnRefused indicates the PLC refused the TCP connection,
	// typically because it is still booting. Distinct because it drives
	// the long reconnect pause.
	ErrConnRefused = errors.New("plc: connection refused")
)

// classify maps a raw transport or codec error onto the failure
// taxonomy. Errors already carrying a sentinel pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrProtocol), errors.Is(err, ErrConnRefused):
		return err
	case isRefused(err):
		return errors.Join(ErrConnRefused, err)
	case isTimeout(err):
		return errors.Join(ErrTimeout, err)
	case isProtocol(err):
		return errors.Join(ErrProtocol, err)
	default:
		return errors.Join(ErrDisconnected, err)
	}
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isProtocol(err error) bool {
	var devErr *mcproto.DeviceError
	return errors.As(err, &devErr) ||
		errors.Is(err, mcproto.ErrShortFrame) ||
		errors.Is(err, mcproto.ErrBadSubheader) ||
		errors.Is(err, mcproto.ErrDeviceName) ||
		errors.Is(err, mcproto.ErrPointCount)
}

// retriable reports whether the auto-reconnect wrapper should attempt a
// reconnect-and-retry for this error. Protocol errors are not transport
// faults; retrying them would just repeat the malformed exchange.
func retriable(err error) bool {
	if errors.Is(err, ErrProtocol) || isProtocol(err) {
		return false
	}
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnRefused) || isTimeout(err) || isRefused(err) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		isNetErr(err)
}

func isNetErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
