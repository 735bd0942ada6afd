package plc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/mcproto"
)

const (
	// Per-call socket read/write deadline.
	ioTimeout = 5 * time.Second
	// TCP connect deadline.
	dialTimeout = 3 * time.Second
	// Pause before retrying a refused connection; the PLC may be booting.
	refusedDelay = 15 * time.Second
)

// HealthDevice is an always-valid register (CPU model name) used by the
// stale-connection probe and the service-level ping.
const HealthDevice = "SD0"

// DialFunc opens the transport socket. Swapped in tests.
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Client owns the single TCP connection to the PLC. At most one Client
// exists per process; all access goes through the PLC service, but the
// Client still guards its socket with its own mutex.
type Client struct {
	cfg   config.PLC
	log   *zap.Logger
	dial  DialFunc
	sleep func(time.Duration)

	// restart, when set together with cfg.ReconnectRestart, is invoked
	// after a typed read exhausts its reconnect attempt. It must only
	// request termination (the signal path does the rest).
	restart func()

	mu        sync.Mutex
	conn      net.Conn
	connected bool
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the socket dialer.
func WithDialer(d DialFunc) Option { return func(c *Client) { c.dial = d } }

// WithRestartHook sets the restart-request hook used when
// RECONNECT_RESTART is enabled.
func WithRestartHook(fn func()) Option { return func(c *Client) { c.restart = fn } }

// withSleep replaces the inter-attempt pause. Tests only.
func withSleep(fn func(time.Duration)) Option { return func(c *Client) { c.sleep = fn } }

// NewClient builds the transport. It does not connect; call Connect or
// let EnsureConnected do it on first use.
func NewClient(cfg config.PLC, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		log:   log,
		sleep: time.Sleep,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) addr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
}

func (c *Client) attempts() int {
	if c.cfg.ReconnectRetry < 1 {
		return 1
	}
	return c.cfg.ReconnectRetry
}

// Connect opens the TCP connection and enables OS keepalive. A refused
// connection is retried with the long pause; any other dial error fails
// fast.
func (c *Client) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() bool {
	attempts := c.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := c.dial(c.addr(), dialTimeout)
		if err == nil {
			c.installConn(conn)
			c.log.Info("connected to PLC", zap.String("addr", c.addr()))
			return true
		}
		if isRefused(err) && attempt < attempts {
			c.log.Warn("connection refused, PLC may be booting",
				zap.Int("attempt", attempt), zap.Int("attempts", attempts),
				zap.Duration("pause", refusedDelay), zap.Error(err))
			c.sleep(refusedDelay)
			continue
		}
		c.log.Error("failed to connect to PLC", zap.String("addr", c.addr()), zap.Error(err))
		c.connected = false
		return false
	}
	c.connected = false
	return false
}

func (c *Client) installConn(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		err := tcp.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     60 * time.Second,
			Interval: 10 * time.Second,
			Count:    3,
		})
		if err != nil {
			c.log.Warn("failed to enable TCP keepalive", zap.Error(err))
		}
	}
	c.conn = conn
	c.connected = true
	metricConnects.Inc()
}

// Disconnect closes the connection. Idempotent; always clears the
// connected flag. Closing from the shutdown path also unblocks any
// in-flight read with an I/O error.
func (c *Client) Disconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Client) disconnectLocked() bool {
	c.connected = false
	if c.conn == nil {
		return true
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		c.log.Error("failed to close PLC connection", zap.Error(err))
		return false
	}
	c.log.Info("disconnected from PLC")
	return true
}

// Reconnect tears the connection down and redials, up to
// RECONNECT_RETRY attempts with RECONNECT_DELAY between them (the long
// pause when the port is refused).
func (c *Client) Reconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked()
}

func (c *Client) reconnectLocked() bool {
	attempts := c.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		c.log.Info("reconnect attempt", zap.Int("attempt", attempt), zap.Int("attempts", attempts))
		c.disconnectLocked()
		metricReconnects.Inc()

		conn, err := c.dial(c.addr(), dialTimeout)
		if err == nil {
			c.installConn(conn)
			c.log.Info("reconnect succeeded")
			return true
		}

		c.connected = false
		if attempt == attempts {
			break
		}
		if isRefused(err) {
			c.log.Warn("reconnect refused, PLC may be booting", zap.Duration("pause", refusedDelay), zap.Error(err))
			c.sleep(refusedDelay)
		} else {
			c.log.Warn("reconnect attempt failed", zap.Duration("pause", c.cfg.ReconnectDelay), zap.Error(err))
			c.sleep(c.cfg.ReconnectDelay)
		}
	}
	c.log.Error("failed to reconnect after retries")
	c.connected = false
	return false
}

// Connected reports the connection flag without touching the socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// EnsureConnected verifies the connection is actually usable. When the
// flag says connected it issues a one-word read of an always-valid
// register; any I/O error marks the connection stale and triggers a
// reconnect. Long-lived half-open sockets are caught here.
func (c *Client) EnsureConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		c.log.Warn("PLC not connected, attempting to reconnect")
		return c.reconnectLocked()
	}
	if _, err := c.exchangeWordsLocked(HealthDevice, 1); err != nil {
		c.log.Warn("PLC connection stale, reconnecting", zap.Error(err))
		c.connected = false
		return c.reconnectLocked()
	}
	return true
}

// ReadWords reads n consecutive 16-bit word devices starting at device.
func (c *Client) ReadWords(device string, n int) ([]uint16, error) {
	if c.cfg.DebugDummyRead {
		return make([]uint16, n), nil
	}
	return withReconnect(c, "read_words", func() ([]uint16, error) {
		return c.exchangeWords(device, n)
	})
}

// ReadBits reads n consecutive bit devices starting at device.
func (c *Client) ReadBits(device string, n int) ([]byte, error) {
	if c.cfg.DebugDummyRead {
		return make([]byte, n), nil
	}
	return withReconnect(c, "read_bits", func() ([]byte, error) {
		return c.exchangeBits(device, n)
	})
}

// ReadDwords reads n signed 32-bit values, each formed from two
// consecutive words interpreted little-endian.
func (c *Client) ReadDwords(device string, n int) ([]int32, error) {
	if c.cfg.DebugDummyRead {
		return make([]int32, n), nil
	}
	return withReconnect(c, "read_dwords", func() ([]int32, error) {
		words, err := c.exchangeWords(device, 2*n)
		if err != nil {
			return nil, err
		}
		dwords := make([]int32, n)
		for i := range dwords {
			dwords[i] = int32(uint32(words[2*i]) | uint32(words[2*i+1])<<16)
		}
		return dwords, nil
	})
}

// withReconnect is the auto-reconnect stage of the read pipeline: on a
// transport error it reconnects and retries the call exactly once. On a
// second failure the classified error surfaces; with RECONNECT_RESTART
// set a process restart is requested first.
func withReconnect[T any](c *Client, op string, call func() (T, error)) (T, error) {
	out, err := call()
	if err == nil {
		metricReads.WithLabelValues(op, "ok").Inc()
		return out, nil
	}
	c.log.Error("transport error", zap.String("op", op), zap.Error(err))

	reconnectTried := false
	if c.cfg.AutoReconnect && retriable(err) {
		reconnectTried = true
		c.log.Info("attempting to reconnect", zap.String("op", op))
		if c.Reconnect() {
			if out, err = call(); err == nil {
				metricReads.WithLabelValues(op, "ok").Inc()
				return out, nil
			}
		}
	}

	metricReads.WithLabelValues(op, "error").Inc()
	c.log.Error("operation failed after reconnect attempts", zap.String("op", op), zap.Error(err))
	if reconnectTried && c.cfg.ReconnectRestart && c.restart != nil {
		c.log.Error("reconnection exhausted, requesting process restart", zap.String("op", op))
		c.restart()
	}
	var zero T
	return zero, classify(err)
}

func (c *Client) exchangeWords(device string, n int) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchangeWordsLocked(device, n)
}

func (c *Client) exchangeWordsLocked(device string, n int) ([]uint16, error) {
	dev, err := mcproto.ParseDevice(device)
	if err != nil {
		return nil, err
	}
	req, err := mcproto.BuildReadWords(dev, n)
	if err != nil {
		return nil, err
	}
	payload, err := c.exchangeLocked(req)
	if err != nil {
		return nil, err
	}
	return mcproto.ParseReadWords(payload, n)
}

func (c *Client) exchangeBits(device string, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := mcproto.ParseDevice(device)
	if err != nil {
		return nil, err
	}
	req, err := mcproto.BuildReadBits(dev, n)
	if err != nil {
		return nil, err
	}
	payload, err := c.exchangeLocked(req)
	if err != nil {
		return nil, err
	}
	return mcproto.ParseReadBits(payload, n)
}

// exchangeLocked performs one request/response round trip under the
// per-call deadline. Callers hold c.mu.
func (c *Client) exchangeLocked(req []byte) ([]byte, error) {
	if !c.connected || c.conn == nil {
		return nil, ErrDisconnected
	}
	deadline := time.Now().Add(ioTimeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(req); err != nil {
		return nil, err
	}
	return mcproto.ReadResponse(c.conn)
}
