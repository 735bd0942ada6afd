package mcproto

import (
	"encoding/binary"
	"io"
)

// 3E frame constants. The access route is fixed: own-station CPU
// (network 0, PC 0xFF, module 0x03FF, station 0).
const (
	reqSubheader1 = 0x50
	reqSubheader2 = 0x00
	rspSubheader1 = 0xD0
	rspSubheader2 = 0x00

	networkNo = 0x00
	pcNo      = 0xFF
	moduleLo  = 0xFF
	moduleHi  = 0x03
	stationNo = 0x00

	cmdBatchRead   = 0x0401
	subcmdWordUnit = 0x0000
	subcmdBitUnit  = 0x0001

	// Monitoring timer in 250 ms units; the socket deadline in pkg/plc
	// is the real bound, this only stops the CPU holding a request.
	monitoringTimer = 0x0010

	// MaxReadPoints is the batch-read limit of the 3E frame.
	MaxReadPoints = 960

	// RspHeaderLen is the fixed prefix of every 3E response:
	// subheader(2) + route(5) + data length(2).
	RspHeaderLen = 9
)

// BuildReadWords builds a batch-read request for n word devices
// starting at dev.
func BuildReadWords(dev Device, n int) ([]byte, error) {
	return buildRead(dev, n, subcmdWordUnit)
}

// BuildReadBits builds a batch-read request for n bit devices starting
// at dev.
func BuildReadBits(dev Device, n int) ([]byte, error) {
	return buildRead(dev, n, subcmdBitUnit)
}

func buildRead(dev Device, n int, subcmd uint16) ([]byte, error) {
	if n < 1 || n > MaxReadPoints {
		return nil, ErrPointCount
	}

	// Request data: timer(2) + command(2) + subcommand(2) + device(4) + points(2).
	const dataLen = 12

	buf := make([]byte, 0, 9+dataLen)
	buf = append(buf, reqSubheader1, reqSubheader2)
	buf = append(buf, networkNo, pcNo, moduleLo, moduleHi, stationNo)
	buf = binary.LittleEndian.AppendUint16(buf, dataLen)
	buf = binary.LittleEndian.AppendUint16(buf, monitoringTimer)
	buf = binary.LittleEndian.AppendUint16(buf, cmdBatchRead)
	buf = binary.LittleEndian.AppendUint16(buf, subcmd)
	buf = append(buf, byte(dev.Number), byte(dev.Number>>8), byte(dev.Number>>16))
	buf = append(buf, dev.Code)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
	return buf, nil
}

// ReadResponse consumes one complete 3E response from r and returns its
// payload (the bytes after the completion code). A non-zero completion
// code is returned as a *DeviceError.
func ReadResponse(r io.Reader) ([]byte, error) {
	var hdr [RspHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != rspSubheader1 || hdr[1] != rspSubheader2 {
		return nil, ErrBadSubheader
	}
	dataLen := binary.LittleEndian.Uint16(hdr[7:9])
	if dataLen < 2 {
		return nil, ErrShortFrame
	}
	body := make([]byte, dataLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if code := binary.LittleEndian.Uint16(body[:2]); code != 0 {
		return nil, &DeviceError{Code: code}
	}
	return body[2:], nil
}

// ParseReadWords decodes the payload of a word-unit batch-read response
// into n 16-bit values.
func ParseReadWords(payload []byte, n int) ([]uint16, error) {
	if len(payload) < 2*n {
		return nil, ErrShortFrame
	}
	words := make([]uint16, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return words, nil
}

// ParseReadBits decodes the payload of a bit-unit batch-read response
// into n 0/1 values. Each response byte packs two points, first point
// in the high nibble.
func ParseReadBits(payload []byte, n int) ([]byte, error) {
	if len(payload) < (n+1)/2 {
		return nil, ErrShortFrame
	}
	bits := make([]byte, n)
	for i := range bits {
		b := payload[i/2]
		if i%2 == 0 {
			b >>= 4
		}
		if b&0x01 != 0 {
			bits[i] = 1
		}
	}
	return bits, nil
}
