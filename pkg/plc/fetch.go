package plc

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/production"
)

// alarmMsgWords is the number of words holding the alarm message text,
// two characters per word.
const alarmMsgWords = 10

// Reader is the typed read surface the fetcher needs. *Client
// implements it; tests substitute stubs.
type Reader interface {
	ReadWords(device string, n int) ([]uint16, error)
	ReadBits(device string, n int) ([]byte, error)
	ReadDwords(device string, n int) ([]int32, error)
	EnsureConnected() bool
}

// Fetcher assembles Snapshots from a round of PLC reads. Stateless
// between calls; every field read substitutes a typed default on error
// so one bad register never loses the whole observation.
type Fetcher struct {
	devices config.Devices
	master  *production.Master
	log     *zap.Logger
	now     func() time.Time
}

// NewFetcher binds the device map and line master.
func NewFetcher(devices config.Devices, master *production.Master, log *zap.Logger) *Fetcher {
	return &Fetcher{devices: devices, master: master, log: log, now: time.Now}
}

// ClockDevice returns the configured PLC clock device, empty when none.
func (f *Fetcher) ClockDevice() string { return f.devices.Time }

// Snapshot reads every configured device and builds one observation.
// The returned error is non-nil when the transport was unusable for the
// whole round (the snapshot still carries defaults); per-field failures
// are logged and defaulted without failing the round.
func (f *Fetcher) Snapshot(r Reader) (production.Snapshot, error) {
	line := f.master.Line()

	if !r.EnsureConnected() {
		f.log.Warn("PLC unreachable, snapshot holds defaults", zap.String("line", line))
		s := f.defaultSnapshot(line)
		return s, ErrDisconnected
	}

	productionType := f.fetchWord(r, f.devices.ProductionType, "production type", 0)
	if productionType < 0 || productionType > 15 {
		f.log.Warn("production type out of range, defaulting to 0", zap.Int("production_type", productionType))
		productionType = 0
	}

	plan := clampNonNeg(f.fetchDword(r, f.devices.Plan, "production plan", 0))
	actual := clampNonNeg(f.fetchDword(r, f.devices.Actual, "production actual", 0))
	inOperating := f.fetchBit(r, f.devices.InOperating, "in_operating flag", false)
	alarm := f.fetchBit(r, f.devices.AlarmFlag, "alarm flag", false)
	alarmMsg := f.fetchAlarmMsg(r, f.devices.AlarmMsg)

	cfg, err := f.master.Config(productionType)
	if err != nil {
		f.log.Warn("production type not in master, synthesizing error snapshot",
			zap.Int("production_type", productionType), zap.Error(err))
		return production.Snapshot{
			LineName:       line,
			ProductionType: productionType,
			ProductionName: "UNKNOWN",
			Plan:           plan,
			Actual:         actual,
			InOperating:    inOperating,
			Fully:          1,
			Alarm:          true,
			AlarmMsg:       fmt.Sprintf("production type config error: type=%d", productionType),
			Timestamp:      f.now(),
		}, nil
	}

	return production.Snapshot{
		LineName:       line,
		ProductionType: productionType,
		ProductionName: cfg.Name,
		Plan:           plan,
		Actual:         actual,
		InOperating:    inOperating,
		RemainMin:      production.RemainMinutes(plan, actual, cfg.SecondsPerProduct),
		RemainPallet:   production.RemainPallets(plan, actual, cfg.Fully),
		Fully:          cfg.Fully,
		Alarm:          alarm,
		AlarmMsg:       alarmMsg,
		Timestamp:      f.Timestamp(r),
	}, nil
}

// Timestamp reads the PLC clock. Decode failures and transport errors
// fall back to the system clock.
func (f *Fetcher) Timestamp(r Reader) time.Time {
	if f.devices.Time == "" {
		return f.now()
	}
	words, err := r.ReadWords(f.devices.Time, 3)
	if err != nil {
		f.log.Warn("failed to read PLC clock, using system time", zap.Error(err))
		return f.now()
	}
	ts, err := DecodeBCDTimestamp(words)
	if err != nil {
		f.log.Warn("malformed PLC clock, using system time", zap.Error(err))
		return f.now()
	}
	return ts
}

func (f *Fetcher) defaultSnapshot(line string) production.Snapshot {
	s := production.Snapshot{
		LineName:  line,
		Fully:     1,
		Timestamp: f.now(),
	}
	if cfg, err := f.master.Config(0); err == nil {
		s.ProductionName = cfg.Name
		s.Fully = cfg.Fully
	}
	return s
}

func (f *Fetcher) fetchWord(r Reader, device, field string, def int) int {
	if device == "" {
		return def
	}
	words, err := r.ReadWords(device, 1)
	if err != nil || len(words) == 0 {
		f.log.Warn("failed to read word, using default",
			zap.String("field", field), zap.String("device", device), zap.Int("default", def), zap.Error(err))
		return def
	}
	return int(words[0])
}

func (f *Fetcher) fetchDword(r Reader, device, field string, def int) int {
	if device == "" {
		return def
	}
	dwords, err := r.ReadDwords(device, 1)
	if err != nil || len(dwords) == 0 {
		f.log.Warn("failed to read dword, using default",
			zap.String("field", field), zap.String("device", device), zap.Int("default", def), zap.Error(err))
		return def
	}
	return int(dwords[0])
}

func (f *Fetcher) fetchBit(r Reader, device, field string, def bool) bool {
	if device == "" {
		return def
	}
	bits, err := r.ReadBits(device, 1)
	if err != nil || len(bits) == 0 {
		f.log.Warn("failed to read bit, using default",
			zap.String("field", field), zap.String("device", device), zap.Bool("default", def), zap.Error(err))
		return def
	}
	return bits[0] != 0
}

func (f *Fetcher) fetchAlarmMsg(r Reader, device string) string {
	if device == "" {
		return ""
	}
	words, err := r.ReadWords(device, alarmMsgWords)
	if err != nil {
		f.log.Warn("failed to read alarm message, using empty string",
			zap.String("device", device), zap.Error(err))
		return ""
	}
	return DecodeAlarmMessage(words)
}

// DecodeAlarmMessage unpacks two characters per word, high byte first,
// and trims trailing NULs.
func DecodeAlarmMessage(words []uint16) string {
	buf := make([]byte, 0, 2*len(words))
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	return strings.TrimRight(string(buf), "\x00")
}

// DecodeBCDTimestamp converts the three-word packed-BCD PLC clock into
// wall time: word1 = year-2000/month, word2 = day/hour, word3 =
// minute/second, one BCD byte each.
func DecodeBCDTimestamp(words []uint16) (time.Time, error) {
	if len(words) < 3 {
		return time.Time{}, fmt.Errorf("plc: clock needs 3 words, got %d", len(words))
	}
	year, err := bcdByte(byte(words[0] >> 8))
	if err != nil {
		return time.Time{}, err
	}
	month, err := bcdByte(byte(words[0]))
	if err != nil {
		return time.Time{}, err
	}
	day, err := bcdByte(byte(words[1] >> 8))
	if err != nil {
		return time.Time{}, err
	}
	hour, err := bcdByte(byte(words[1]))
	if err != nil {
		return time.Time{}, err
	}
	min, err := bcdByte(byte(words[2] >> 8))
	if err != nil {
		return time.Time{}, err
	}
	sec, err := bcdByte(byte(words[2]))
	if err != nil {
		return time.Time{}, err
	}

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("plc: clock fields out of range: %02d-%02d-%02d %02d:%02d:%02d",
			year, month, day, hour, min, sec)
	}
	return time.Date(2000+year, time.Month(month), day, hour, min, sec, 0, time.Local), nil
}

// bcdByte decodes one packed-BCD byte (two decimal digits).
func bcdByte(b byte) (int, error) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("plc: invalid BCD byte 0x%02X", b)
	}
	return hi*10 + lo, nil
}

func clampNonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
