package mcproto

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceName indicates that a device string could not be parsed
	// into a known device code and number.
	ErrDeviceName = errors.New("mcproto: invalid device name")

	// ErrShortFrame indicates that a response ended before its declared
	// data length.
	ErrShortFrame = errors.New("mcproto: short response frame")

	// ErrBadSubheader indicates that a response did not begin with the
	// 3E reply subheader (0xD0 0x00).
	ErrBadSubheader = errors.New("mcproto: bad response subheader")

	// ErrPointCount indicates a read size outside the 1..960 range the
	// 3E batch-read command accepts.
	ErrPointCount = errors.New("mcproto: point count out of range")
)

// DeviceError is a non-zero completion code returned by the PLC CPU.
type DeviceError struct {
	Code uint16
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("mcproto: device error 0x%04X", e.Code)
}
