package mcproto

import (
	"strconv"
	"strings"
)

// Device is a parsed PLC device address: a binary device code plus the
// head number within that device area.
type Device struct {
	Code   byte
	Number uint32
}

// deviceSpec describes one device area: its binary code and the number
// base used in the textual form.
type deviceSpec struct {
	code byte
	base int
}

// Longest prefixes must be matched first (SD before D, SM before M).
var devicePrefixes = []string{"SD", "SM", "ZR", "TN", "TS", "CN", "CS", "D", "W", "R", "M", "L", "F", "V", "B", "X", "Y", "S"}

var deviceTable = map[string]deviceSpec{
	"SM": {0x91, 10},
	"SD": {0xA9, 10},
	"X":  {0x9C, 16},
	"Y":  {0x9D, 16},
	"M":  {0x90, 10},
	"L":  {0x92, 10},
	"F":  {0x93, 10},
	"V":  {0x94, 10},
	"B":  {0xA0, 16},
	"D":  {0xA8, 10},
	"W":  {0xB4, 16},
	"TS": {0xC1, 10},
	"TN": {0xC2, 10},
	"CS": {0xC4, 10},
	"CN": {0xC5, 10},
	"S":  {0x98, 10},
	"R":  {0xAF, 10},
	"ZR": {0xB0, 10},
}

// ParseDevice splits a device name such as "D100", "SD210" or "X1A"
// into its binary code and head number. The number is decimal except
// for the X/Y/B/W areas, which are hexadecimal.
func ParseDevice(name string) (Device, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, p := range devicePrefixes {
		rest, ok := strings.CutPrefix(name, p)
		if !ok || rest == "" {
			continue
		}
		spec := deviceTable[p]
		n, err := strconv.ParseUint(rest, spec.base, 24)
		if err != nil {
			return Device{}, ErrDeviceName
		}
		return Device{Code: spec.code, Number: uint32(n)}, nil
	}
	return Device{}, ErrDeviceName
}
