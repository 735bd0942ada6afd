// Package mcproto implements the binary MELSEC communication frame (3E
// frame) used by Q-series PLC CPUs over TCP.
//
// Overview
//
//   - Device names ("D100", "M100", "SD210", "X10") are parsed into a
//     device code and a head number by ParseDevice. X/Y/B/W device
//     numbers are hexadecimal, everything else (ZR included) decimal,
//     matching the MELSEC addressing convention.
//
//   - Requests are built by BuildReadWords / BuildReadBits: a 3E frame
//     with the batch-read command (0x0401), word (0x0000) or bit
//     (0x0001) subcommand, the encoded head device and a point count.
//
//   - ReadResponse consumes the fixed 9-byte response header and the
//     completion code from an io.Reader and returns the raw payload; a
//     non-zero completion code is surfaced as a DeviceError. The payload
//     is then decoded by ParseReadWords / ParseReadBits.
//
// The package is transport-agnostic: it never touches a socket. The
// connection lifecycle (deadlines, keepalive, reconnect) belongs to
// pkg/plc, which feeds frames through here.
//
// Errors (errs.go):
//
//	ErrDeviceName   : device string did not parse
//	ErrShortFrame   : response shorter than its declared length
//	ErrBadSubheader : response did not start with the 3E reply subheader
//	DeviceError     : PLC rejected the request (completion code != 0)
package mcproto
