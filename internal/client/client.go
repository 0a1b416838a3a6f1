// internal/client/client.go
package client

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/internal/caster"
	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/health"
	"github.com/entr0-pi/gnss-ntrip-client/internal/logging"
	"github.com/entr0-pi/gnss-ntrip-client/internal/stats"
	"github.com/entr0-pi/gnss-ntrip-client/internal/transport"
	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

const tag = "client"

// Tick pacing. Loose targets, not hard deadlines: the supervisor yields at
// least this often in each state.
const (
	idleWait         = 10 * time.Millisecond
	disconnectedWait = 200 * time.Millisecond
	lockedOutWait    = 500 * time.Millisecond
)

// stopTaskTimeout bounds how long StopTask waits for the supervisor
// goroutine to observe the cleared running flag.
const stopTaskTimeout = 5 * time.Second

// Options configures a Client. Zero-value fields get working defaults.
type Options struct {
	// TransportFactory produces a fresh transport per connection attempt.
	// Defaults to plain TCP.
	TransportFactory transport.Factory
	// Clock defaults to the wall clock.
	Clock Clock
	// Logger receives level-tagged log lines. Nil suppresses all output.
	Logger logging.Func
}

// Client supervises one NTRIP stream: it connects to the caster, validates
// the RTCM stream, forwards bytes to the GNSS sink, and replaces the
// connection when it stalls or drops.
//
// Concurrency model: one writer, many readers. All state transitions happen
// on the supervisor goroutine (or whoever calls Tick); queries and control
// calls are safe from any goroutine. Control calls never block; they take
// effect on the next tick.
type Client struct {
	factory  transport.Factory
	clock    Clock
	registry *stats.Registry
	monitor  *health.Monitor

	logMu sync.RWMutex
	log   logging.Func
	out   logging.Func

	cfgMu   sync.Mutex
	pending config.StreamConfig
	sink    io.Writer
	begun   bool

	running  atomic.Bool
	taskMu   sync.Mutex
	taskDone chan struct{}

	resetReq     atomic.Bool
	reconnectReq atomic.Bool
	stopReq      atomic.Bool

	// Owned by the supervisor goroutine. The config snapshot is refreshed
	// only at the DISCONNECTED to CONNECTING boundary; the read buffer is
	// sized once and never reallocated mid-stream.
	snap        config.StreamConfig
	transport   transport.Transport
	buf         []byte
	acc         stats.Accumulator
	failures    int
	lastAttempt time.Time
	lastFlush   time.Time
}

// New builds a client. Begin must be called before the state machine runs.
func New(opts Options) *Client {
	c := &Client{
		clock:    opts.Clock,
		log:      opts.Logger,
		registry: stats.NewRegistry(),
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	c.out = c.dispatchLog()
	c.factory = opts.TransportFactory
	if c.factory == nil {
		c.factory = transport.NewTCPFactory(c.out)
	}
	c.monitor = health.NewMonitor(c.out)
	return c
}

// dispatchLog returns a Func that always routes through the current logger,
// so SetLogger takes effect everywhere immediately.
func (c *Client) dispatchLog() logging.Func {
	return func(level logging.Level, tag, message string) {
		c.logMu.RLock()
		f := c.log
		c.logMu.RUnlock()
		if f != nil {
			f(level, tag, message)
		}
	}
}

// SetLogger installs or replaces the log callback. Safe from any goroutine.
func (c *Client) SetLogger(f logging.Func) {
	c.logMu.Lock()
	c.log = f
	c.logMu.Unlock()
}

// Begin validates the configuration and arms the client with a byte sink.
// It rejects invalid config without any state change and must not be called
// while the supervisor task is running.
func (c *Client) Begin(cfg config.StreamConfig, sink io.Writer) error {
	if c.IsTaskRunning() {
		return fmt.Errorf("client task is running; stop it before calling Begin")
	}
	if err := config.ValidateStream(&cfg); err != nil {
		c.out.Errorf(tag, "invalid config: %v", err)
		return fmt.Errorf("invalid config: %w", err)
	}

	c.cfgMu.Lock()
	c.pending = cfg
	c.sink = sink
	c.begun = true
	c.cfgMu.Unlock()

	c.snap = cfg
	c.failures = 0
	c.buf = nil
	c.acc.Reset()
	c.lastAttempt = time.Time{}
	c.registry.SetHealthy(false)
	c.registry.SetState(ntrip.StateDisconnected)
	c.registry.ClearError()

	c.out.Infof(tag, "initialized (%s v%s)", ntrip.ClientName, ntrip.ClientVersion)
	return nil
}

// UpdateConfig stages a new stream configuration. The supervisor picks it up
// at the next connect boundary; an in-flight connection is not disturbed
// and the read buffer is not reallocated.
func (c *Client) UpdateConfig(cfg config.StreamConfig) error {
	if err := config.ValidateStream(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfgMu.Lock()
	c.pending = cfg
	c.cfgMu.Unlock()
	return nil
}

// StartTask launches the supervisor goroutine.
func (c *Client) StartTask() error {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	if c.taskDone != nil {
		c.out.Warnf(tag, "task already running, ignoring duplicate StartTask")
		return fmt.Errorf("task already running")
	}
	c.cfgMu.Lock()
	begun := c.begun
	c.cfgMu.Unlock()
	if !begun {
		return fmt.Errorf("Begin must succeed before StartTask")
	}

	c.running.Store(true)
	done := make(chan struct{})
	c.taskDone = done
	go c.run(done)

	c.out.Infof(tag, "task started")
	return nil
}

// StopTask asks the supervisor goroutine to exit and waits up to five
// seconds for it. A goroutine cannot be force-killed; on timeout it is
// abandoned and will exit at its next tick.
func (c *Client) StopTask() bool {
	c.taskMu.Lock()
	done := c.taskDone
	c.taskMu.Unlock()
	if done == nil {
		return false
	}

	c.running.Store(false)
	select {
	case <-done:
	case <-time.After(stopTaskTimeout):
		c.out.Warnf(tag, "task did not stop within %v", stopTaskTimeout)
	}

	c.taskMu.Lock()
	c.taskDone = nil
	c.taskMu.Unlock()

	c.out.Infof(tag, "task stopped")
	return true
}

// IsTaskRunning reports whether the supervisor goroutine is active.
func (c *Client) IsTaskRunning() bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	return c.taskDone != nil && c.running.Load()
}

// run is the supervisor loop. The read buffer lives for the task lifetime.
func (c *Client) run(done chan struct{}) {
	defer close(done)

	c.ensureBuffer()

	for c.running.Load() {
		wait := c.Tick()
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	now := c.clock.Now()
	c.registry.Flush(&c.acc, now)
	c.closeTransport()
	c.registry.SetHealthy(false)
	c.registry.ConnectionClosed()
	c.registry.SetState(ntrip.StateDisconnected)
	c.buf = nil
}

// Tick advances the state machine by one step and returns how long the
// caller should wait before the next tick. It is the synchronous core of
// the supervisor: tests and spawner-less embeddings drive it directly.
func (c *Client) Tick() time.Duration {
	now := c.clock.Now()
	c.ensureBuffer()
	c.handleControlRequests(now)

	state := c.registry.State()

	// A socket left open outside the active states is torn down.
	if state != ntrip.StateStreaming && state != ntrip.StateConnecting {
		if c.transport != nil && c.transport.IsConnected() {
			c.closeTransport()
			c.registry.SetHealthy(false)
		}
	}

	if state == ntrip.StateDisconnected {
		if now.Sub(c.lastAttempt) < c.snap.RetryDelay {
			return disconnectedWait
		}
		if c.failures >= c.snap.MaxTries {
			c.registry.SetError(ntrip.ErrMaxRetriesExceeded,
				fmt.Sprintf("failed %d times", c.failures))
			c.out.Errorf(tag, "max retries exceeded after %d failures", c.failures)
			c.registry.SetState(ntrip.StateLockedOut)
			return 0
		}
		c.registry.SetState(ntrip.StateConnecting)
		state = ntrip.StateConnecting
	}

	switch state {
	case ntrip.StateConnecting:
		c.connect(now)
		return 0
	case ntrip.StateStreaming:
		return c.tickStreaming(now)
	case ntrip.StateLockedOut:
		return lockedOutWait
	}
	return idleWait
}

// connect snapshots the config and runs one caster handshake, with the
// Rev2 to Rev1 negotiation inside the session.
func (c *Client) connect(now time.Time) {
	c.cfgMu.Lock()
	c.snap = c.pending
	c.cfgMu.Unlock()

	c.lastAttempt = now
	c.out.Infof(tag, "connecting to %s:%d/%s (attempt %d/%d)",
		c.snap.Host, c.snap.Port, c.snap.Mount, c.failures+1, c.snap.MaxTries)

	t := c.factory()
	session := caster.NewSession(t, c.snap, c.out)
	version, serr := session.Negotiate()
	if serr != nil {
		t.Close()
		c.failures++
		c.registry.SetError(serr.Kind, serr.Message)
		c.out.Errorf(tag, "%s", serr.Message)
		c.registry.SetState(ntrip.StateDisconnected)
		return
	}

	c.transport = t
	c.failures = 0
	c.monitor.Begin(now, c.snap)
	c.acc.Reset()
	c.lastFlush = now
	c.registry.SetHealthy(false)
	c.registry.ConnectionEstablished(now, version)
	c.registry.SetState(ntrip.StateStreaming)
	c.out.Infof(tag, "connected (NTRIP rev%d), validating stream", version)
}

// tickStreaming runs one read/forward/monitor cycle.
func (c *Client) tickStreaming(now time.Time) time.Duration {
	if c.transport == nil || !c.transport.IsConnected() {
		c.out.Warnf(tag, "connection lost")
		c.fail(now, ntrip.ErrTCPConnectFailed, "socket closed by "+c.snap.Host)
		return 0
	}

	n, err := c.transport.Read(c.buf)
	if n > 0 {
		c.acc.Bytes += uint64(n)

		// Forward to the GNSS sink before any parsing: the rover gets every
		// byte at zero added latency, CRC verdicts come later.
		if sink := c.sinkWriter(); sink != nil {
			if _, werr := sink.Write(c.buf[:n]); werr != nil {
				c.out.Warnf(tag, "sink write failed: %v", werr)
			}
		}

		if c.monitor.Observe(now, c.buf[:n], &c.acc) {
			c.registry.SetHealthy(true)
		}
	}
	if err != nil {
		c.out.Warnf(tag, "connection lost: %v", err)
		c.fail(now, ntrip.ErrTCPConnectFailed, "socket closed by "+c.snap.Host)
		return 0
	}

	if c.monitor.Zombie(now) {
		c.out.Warnf(tag, "zombie stream detected (%v since valid data)",
			c.monitor.SinceHealth(now))
		c.fail(now, ntrip.ErrZombieStream,
			fmt.Sprintf("no valid RTCM for %v", c.snap.HealthTimeout))
		return 0
	}

	c.maybeFlush(now)
	return idleWait
}

// fail records a streaming error, counts it as one failure and disconnects.
func (c *Client) fail(now time.Time, kind ntrip.ErrorKind, message string) {
	c.failures++
	c.registry.SetError(kind, message)
	c.out.Errorf(tag, "%s", message)
	c.disconnect(now)
}

// disconnect tears the connection down and publishes DISCONNECTED. Pending
// counters are flushed first so observers never see the transition without
// the events that led to it.
func (c *Client) disconnect(now time.Time) {
	c.registry.Flush(&c.acc, now)
	c.closeTransport()
	c.registry.SetHealthy(false)
	c.registry.ConnectionClosed()
	c.registry.SetState(ntrip.StateDisconnected)
}

func (c *Client) closeTransport() {
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
}

// handleControlRequests applies stop/reset/reconnect requests posted from
// other goroutines.
func (c *Client) handleControlRequests(now time.Time) {
	if c.stopReq.Swap(false) {
		c.disconnect(now)
		c.failures = c.snap.MaxTries
		c.registry.SetError(ntrip.ErrMaxRetriesExceeded, "stopped by user")
		c.registry.SetState(ntrip.StateLockedOut)
		c.out.Infof(tag, "stopped")
	}
	if c.resetReq.Swap(false) {
		c.disconnect(now)
		c.failures = 0
		c.lastAttempt = now
		c.registry.ClearError()
		c.out.Infof(tag, "reset, lockout cleared")
	}
	if c.reconnectReq.Swap(false) {
		c.disconnect(now)
		c.failures = 0
		c.lastAttempt = time.Time{}
		c.out.Infof(tag, "reconnection requested")
	}
}

// maybeFlush merges local counters into the registry on the flush cadence.
func (c *Client) maybeFlush(now time.Time) {
	if now.Sub(c.lastFlush) >= stats.FlushInterval {
		c.registry.Flush(&c.acc, now)
		c.lastFlush = now
	}
}

func (c *Client) ensureBuffer() {
	if c.buf == nil {
		size := c.snap.BufferSize
		if size <= 0 {
			size = 1024
		}
		c.buf = make([]byte, size)
	}
}

func (c *Client) sinkWriter() io.Writer {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.sink
}

// Stop disconnects and forces LOCKED_OUT until Reset or Reconnect. Takes
// effect on the next tick; never blocks.
func (c *Client) Stop() {
	c.stopReq.Store(true)
}

// Reset clears the failure counter and any error, returning to
// DISCONNECTED. Takes effect on the next tick; never blocks.
func (c *Client) Reset() {
	c.resetReq.Store(true)
}

// Reconnect forces an immediate retry by zeroing the retry window. Takes
// effect on the next tick; never blocks.
func (c *Client) Reconnect() {
	c.reconnectReq.Store(true)
}

// State returns the published connection state.
func (c *Client) State() ntrip.State {
	return c.registry.State()
}

// IsStreaming reports whether the client is connected and streaming.
func (c *Client) IsStreaming() bool {
	return c.registry.State() == ntrip.StateStreaming
}

// IsHealthy reports whether the stream has proven itself on the current
// connection.
func (c *Client) IsHealthy() bool {
	return c.registry.Healthy()
}

// GetStats returns a consistent snapshot of the stream counters.
func (c *Client) GetStats() ntrip.Stats {
	return c.registry.Snapshot()
}

// GetLastError returns the most recent error kind.
func (c *Client) GetLastError() ntrip.ErrorKind {
	kind, _ := c.registry.LastError()
	return kind
}

// GetErrorMessage returns the most recent human-readable error.
func (c *Client) GetErrorMessage() string {
	_, msg := c.registry.LastError()
	return msg
}
