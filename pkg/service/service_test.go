package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/plc"
	"github.com/factorykit/linewatch/pkg/production"
)

// fakeClock pins Now and delegates deadlines to real contexts, so tests
// use short real timeouts where expiry matters.
type fakeClock struct {
	now         time.Time
	expireLocks bool
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if c.expireLocks {
		expired, cancel := context.WithCancel(ctx)
		cancel()
		return expired, cancel
	}
	return context.WithTimeout(ctx, d)
}

// fakeTransport answers every read instantly unless block is set, in
// which case reads hang until release is closed.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	disconnects int
	readErr     error
	block       chan struct{}
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTransport) track() func() {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeTransport) wait() error {
	if f.block != nil {
		<-f.block
	}
	return f.readErr
}

func (f *fakeTransport) ReadWords(device string, n int) ([]uint16, error) {
	defer f.track()()
	if err := f.wait(); err != nil {
		return nil, err
	}
	if device == "SD210" {
		return []uint16{0x2511, 0x1314, 0x3045}, nil
	}
	return make([]uint16, n), nil
}

func (f *fakeTransport) ReadBits(device string, n int) ([]byte, error) {
	defer f.track()()
	if err := f.wait(); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

func (f *fakeTransport) ReadDwords(device string, n int) ([]int32, error) {
	defer f.track()()
	if err := f.wait(); err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = 1000
	}
	return out, nil
}

func (f *fakeTransport) EnsureConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return true
}

func testServiceCfg() config.Service {
	return config.Service{
		UsePLC:       true,
		LineName:     "LINE_1",
		FetchTimeout: 200 * time.Millisecond,
		PingTimeout:  100 * time.Millisecond,
		FailureLimit: 3,
	}
}

func newTestService(t *testing.T, cfg config.Service, tr Transport) (*Service, *atomic.Int32) {
	t.Helper()
	master := production.NewMaster("LINE_1", map[int]production.TypeConfig{
		0: {ProductionType: 0, Name: "TYPE-A", Fully: 2800, SecondsPerProduct: 1.2},
		1: {ProductionType: 1, Name: "TYPE-B", Fully: 1400, SecondsPerProduct: 2.4},
	})
	fetcher := plc.NewFetcher(config.Devices{
		Time:           "SD210",
		ProductionType: "D200",
		Plan:           "D300",
		Actual:         "D400",
		AlarmFlag:      "M600",
		AlarmMsg:       "D700",
		InOperating:    "M100",
	}, master, zaptest.NewLogger(t))

	var kills atomic.Int32
	svc := New(cfg, master, tr, fetcher, zaptest.NewLogger(t),
		WithClock(&fakeClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}),
		WithKill(func() error { kills.Add(1); return nil }),
		WithRandSeed(42))
	return svc, &kills
}

func TestService_ProductionData(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, kills := newTestService(t, testServiceCfg(), tr)

	snap, err := svc.ProductionData()
	require.NoError(t, err)
	assert.Equal(t, "LINE_1", snap.LineName)
	assert.Equal(t, "TYPE-A", snap.ProductionName)
	assert.Equal(t, 1000, snap.Plan)
	assert.Equal(t, 1000, snap.Actual)
	assert.Equal(t, 0, svc.ConsecutiveFailures())
	assert.Equal(t, int32(0), kills.Load())
}

func TestService_DisabledModeNeverTouchesTransport(t *testing.T) {
	cfg := testServiceCfg()
	cfg.UsePLC = false
	svc, _ := newTestService(t, cfg, nil)

	for range 10 {
		snap, err := svc.ProductionData()
		require.NoError(t, err)
		assert.Equal(t, 45000, snap.Plan)
		assert.GreaterOrEqual(t, snap.Actual, 0)
		assert.LessOrEqual(t, snap.Actual, 45000)
		assert.Contains(t, []string{"TYPE-A", "TYPE-B"}, snap.ProductionName)
		assert.True(t, snap.InOperating)
	}

	st := svc.Status()
	assert.False(t, st.PLCConnected)
	assert.False(t, st.UsePLC)
	require.NotNil(t, st.LastUpdate)
}

func TestService_TimeoutCountsOneFailure(t *testing.T) {
	tr := &fakeTransport{connected: true, block: make(chan struct{})}
	cfg := testServiceCfg()
	cfg.FetchTimeout = 50 * time.Millisecond
	svc, _ := newTestService(t, cfg, tr)

	start := time.Now()
	_, err := svc.ProductionData()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, plc.ErrTimeout)
	assert.Less(t, elapsed, 500*time.Millisecond, "timeout must be enforced, not waited out")
	assert.Equal(t, 1, svc.ConsecutiveFailures())

	close(tr.block)
}

func TestService_UnreachableRoundReturnsDefaultsAndCounts(t *testing.T) {
	tr := &fakeTransport{connected: false}
	svc, _ := newTestService(t, testServiceCfg(), tr)

	snap, err := svc.ProductionData()
	require.NoError(t, err)
	assert.Equal(t, "LINE_1", snap.LineName)
	assert.Equal(t, 0, snap.Plan)
	assert.Equal(t, 1, svc.ConsecutiveFailures())
}

func TestService_FailureCounterResetsOnSuccess(t *testing.T) {
	tr := &fakeTransport{connected: false}
	svc, _ := newTestService(t, testServiceCfg(), tr)

	_, _ = svc.ProductionData()
	_, _ = svc.ProductionData()
	assert.Equal(t, 2, svc.ConsecutiveFailures())

	tr.mu.Lock()
	tr.connected = true
	tr.mu.Unlock()

	_, err := svc.ProductionData()
	require.NoError(t, err)
	assert.Equal(t, 0, svc.ConsecutiveFailures())
}

func TestService_ThresholdTerminatesExactlyOnce(t *testing.T) {
	tr := &fakeTransport{connected: false}
	cfg := testServiceCfg()
	cfg.FailureLimit = 2
	svc, kills := newTestService(t, cfg, tr)

	_, _ = svc.ProductionData()
	assert.Equal(t, int32(0), kills.Load())

	_, _ = svc.ProductionData()
	assert.Equal(t, int32(1), kills.Load())

	// The client was dropped at the limit; later calls never signal again.
	_, _ = svc.ProductionData()
	_, _ = svc.ProductionData()
	assert.Equal(t, int32(1), kills.Load())
}

func TestService_SerializesTransportAccess(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, _ := newTestService(t, testServiceCfg(), tr)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.ProductionData()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), tr.maxInFlight.Load(), "transport calls must not overlap")
}

func TestService_Ping(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, _ := newTestService(t, testServiceCfg(), tr)
	require.NoError(t, svc.Ping())

	cfg := testServiceCfg()
	cfg.UsePLC = false
	disabled, _ := newTestService(t, cfg, nil)
	assert.ErrorIs(t, disabled.Ping(), ErrPLCDisabled)
}

func TestService_PLCTimestamp(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, _ := newTestService(t, testServiceCfg(), tr)

	ts, err := svc.PLCTimestamp()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 13, 14, 30, 45, 0, time.Local), ts)
}

func TestService_ExecutorPing(t *testing.T) {
	tr := &fakeTransport{connected: true, block: make(chan struct{})}
	cfg := testServiceCfg()
	cfg.FetchTimeout = 50 * time.Millisecond
	svc, _ := newTestService(t, cfg, tr)

	assert.True(t, svc.ExecutorPing(100*time.Millisecond))

	// Hang the worker; the executor ping must now report saturation.
	done := make(chan struct{})
	go func() {
		_, _ = svc.ProductionData()
		close(done)
	}()
	// Wait until the worker is actually stuck on the transport.
	require.Eventually(t, func() bool { return tr.inFlight.Load() > 0 }, time.Second, 5*time.Millisecond)

	assert.False(t, svc.ExecutorPing(50*time.Millisecond))

	close(tr.block)
	<-done
}

func TestService_Shutdown(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, _ := newTestService(t, testServiceCfg(), tr)

	svc.Shutdown()
	assert.Equal(t, 1, tr.disconnects)

	// Second shutdown is a no-op: the client reference is gone.
	svc.Shutdown()
	assert.Equal(t, 1, tr.disconnects)
}

func TestService_ShutdownWithStuckLockStillClearsClient(t *testing.T) {
	tr := &fakeTransport{connected: true}
	svc, _ := newTestService(t, testServiceCfg(), tr)
	svc.clock = &fakeClock{now: time.Now(), expireLocks: true}

	// Occupy the access lock to simulate a stuck request.
	svc.access <- struct{}{}

	svc.Shutdown()
	assert.Equal(t, 1, tr.disconnects)

	svc.mu.Lock()
	assert.Nil(t, svc.client)
	svc.mu.Unlock()
}
