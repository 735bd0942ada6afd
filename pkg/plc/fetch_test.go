package plc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/production"
)

// stubReader answers reads from fixed per-device tables.
type stubReader struct {
	words     map[string][]uint16
	bits      map[string][]byte
	dwords    map[string][]int32
	readErr   error
	unreached bool
}

func (s *stubReader) ReadWords(device string, n int) ([]uint16, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if w, ok := s.words[device]; ok {
		return w[:n], nil
	}
	return nil, ErrDisconnected
}

func (s *stubReader) ReadBits(device string, n int) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if b, ok := s.bits[device]; ok {
		return b[:n], nil
	}
	return nil, ErrDisconnected
}

func (s *stubReader) ReadDwords(device string, n int) ([]int32, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if d, ok := s.dwords[device]; ok {
		return d[:n], nil
	}
	return nil, ErrDisconnected
}

func (s *stubReader) EnsureConnected() bool { return !s.unreached }

var testDevices = config.Devices{
	Time:           "SD210",
	ProductionType: "D200",
	Plan:           "D300",
	Actual:         "D400",
	AlarmFlag:      "M600",
	AlarmMsg:       "D700",
	InOperating:    "M100",
}

func testMaster() *production.Master {
	return production.NewMaster("LINE_1", map[int]production.TypeConfig{
		0: {ProductionType: 0, Name: "TYPE-A", Fully: 2800, SecondsPerProduct: 1.2},
		1: {ProductionType: 1, Name: "TYPE-B", Fully: 1400, SecondsPerProduct: 2.4},
	})
}

func fullStub() *stubReader {
	return &stubReader{
		words: map[string][]uint16{
			"SD210": {0x2511, 0x1314, 0x3045},
			"D200":  {1},
			"D700":  {0x4552, 0x524F, 0x5200, 0, 0, 0, 0, 0, 0, 0},
		},
		bits: map[string][]byte{
			"M100": {1},
			"M600": {1},
		},
		dwords: map[string][]int32{
			"D300": {30000},
			"D400": {20000},
		},
	}
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(testDevices, testMaster(), zaptest.NewLogger(t))
}

func TestFetcher_Snapshot(t *testing.T) {
	f := newTestFetcher(t)

	snap, err := f.Snapshot(fullStub())
	require.NoError(t, err)

	assert.Equal(t, "LINE_1", snap.LineName)
	assert.Equal(t, 1, snap.ProductionType)
	assert.Equal(t, "TYPE-B", snap.ProductionName)
	assert.Equal(t, 30000, snap.Plan)
	assert.Equal(t, 20000, snap.Actual)
	assert.True(t, snap.InOperating)
	assert.True(t, snap.Alarm)
	assert.Equal(t, "ERROR", snap.AlarmMsg)
	assert.Equal(t, 1400, snap.Fully)
	// 10000 units * 2.4 s = 400 min; 10000 / 1400 = 7.142.. -> 7.1
	assert.Equal(t, 400, snap.RemainMin)
	assert.InDelta(t, 7.1, snap.RemainPallet, 1e-9)
	assert.Equal(t, time.Date(2025, 11, 13, 14, 30, 45, 0, time.Local), snap.Timestamp)
}

func TestFetcher_Snapshot_NegativeCountsClamp(t *testing.T) {
	f := newTestFetcher(t)
	stub := fullStub()
	stub.dwords["D300"] = []int32{-5}
	stub.dwords["D400"] = []int32{-10}

	snap, err := f.Snapshot(stub)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Plan)
	assert.Equal(t, 0, snap.Actual)
}

func TestFetcher_Snapshot_TypeOutOfRangeDefaultsToZero(t *testing.T) {
	f := newTestFetcher(t)
	stub := fullStub()
	stub.words["D200"] = []uint16{99}

	snap, err := f.Snapshot(stub)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ProductionType)
	assert.Equal(t, "TYPE-A", snap.ProductionName)
}

func TestFetcher_Snapshot_UnknownTypeSynthesizesErrorSnapshot(t *testing.T) {
	f := newTestFetcher(t)
	stub := fullStub()
	stub.words["D200"] = []uint16{7} // in range, not in master

	snap, err := f.Snapshot(stub)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.ProductionType)
	assert.Equal(t, "UNKNOWN", snap.ProductionName)
	assert.Equal(t, 1, snap.Fully)
	assert.True(t, snap.Alarm)
	assert.Contains(t, snap.AlarmMsg, "config error")
	// Raw counters survive even without a master entry.
	assert.Equal(t, 30000, snap.Plan)
}

func TestFetcher_Snapshot_FieldErrorsSubstituteDefaults(t *testing.T) {
	f := newTestFetcher(t)
	stub := fullStub()
	delete(stub.dwords, "D300")
	delete(stub.bits, "M600")
	delete(stub.words, "D700")

	snap, err := f.Snapshot(stub)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Plan)
	assert.False(t, snap.Alarm)
	assert.Equal(t, "", snap.AlarmMsg)
	// Fields that did read keep their values.
	assert.Equal(t, 20000, snap.Actual)
}

func TestFetcher_Snapshot_Unreachable(t *testing.T) {
	f := newTestFetcher(t)
	stub := &stubReader{unreached: true}

	snap, err := f.Snapshot(stub)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, "LINE_1", snap.LineName)
	assert.Equal(t, 0, snap.Plan)
	assert.Equal(t, 0, snap.Actual)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestFetcher_Timestamp_FallsBackToSystemClock(t *testing.T) {
	f := newTestFetcher(t)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	f.now = func() time.Time { return fixed }

	// Transport failure.
	assert.Equal(t, fixed, f.Timestamp(&stubReader{readErr: ErrTimeout}))

	// Malformed BCD (0xAB is not a BCD byte).
	stub := &stubReader{words: map[string][]uint16{"SD210": {0xAB11, 0x1314, 0x3045}}}
	assert.Equal(t, fixed, f.Timestamp(stub))
}

func TestDecodeBCDTimestamp(t *testing.T) {
	ts, err := DecodeBCDTimestamp([]uint16{0x2511, 0x1314, 0x3045})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 13, 14, 30, 45, 0, time.Local), ts)

	// Month 13 is out of range even though every nibble is BCD.
	_, err = DecodeBCDTimestamp([]uint16{0x2513, 0x1314, 0x3045})
	assert.Error(t, err)

	_, err = DecodeBCDTimestamp([]uint16{0x2511, 0x1314})
	assert.Error(t, err)
}

func TestDecodeAlarmMessage(t *testing.T) {
	assert.Equal(t, "ERROR", DecodeAlarmMessage([]uint16{0x4552, 0x524F, 0x5200, 0, 0}))
	assert.Equal(t, "", DecodeAlarmMessage([]uint16{0, 0}))
	assert.Equal(t, "AB", DecodeAlarmMessage([]uint16{0x4142}))
}
