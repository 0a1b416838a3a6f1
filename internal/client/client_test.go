// internal/client/client_test.go
package client

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/stats"
	"github.com/entr0-pi/gnss-ntrip-client/internal/transport"
	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

// frame1077 is a valid RTCM frame carrying message type 1077.
var frame1077 = []byte{
	0xd3, 0x00, 0x14, 0x43, 0x50, 0xa5, 0x4d, 0xca, 0x18, 0x25, 0x30, 0xbb,
	0x1d, 0x6d, 0x13, 0x2c, 0xde, 0xd6, 0x23, 0x7b, 0x2e, 0xd9, 0x1e, 0xe6,
	0xc6, 0xe4,
}

// manualClock is advanced explicitly by the test between ticks.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedAttempt describes how the fake caster answers one TCP connect.
type scriptedAttempt struct {
	connectErr error
	status     string // status line; empty means no response (timeout)
	stream     []byte // bytes served after the header boundary
	dropAfter  bool   // report the socket closed once the stream is drained
}

// scriptedTransport plays one scriptedAttempt per Connect call. It records
// every request written to it.
type scriptedTransport struct {
	mu        sync.Mutex
	attempts  []scriptedAttempt
	cur       *scriptedAttempt
	headerPos int // 0 = status line pending, 1 = boundary pending, 2 = body
	pos       int
	connected bool
	requests  []string
}

func (s *scriptedTransport) Connect(host string, port int, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attempts) == 0 {
		return fmt.Errorf("connection refused")
	}
	a := s.attempts[0]
	s.attempts = s.attempts[1:]
	if a.connectErr != nil {
		return a.connectErr
	}
	s.cur = &a
	s.headerPos = 0
	s.pos = 0
	s.connected = true
	return nil
}

func (s *scriptedTransport) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return transport.ErrNotConnected
	}
	s.requests = append(s.requests, string(data))
	return nil
}

func (s *scriptedTransport) ReadLineCRLF(deadline time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.status == "" {
		return "", false
	}
	switch s.headerPos {
	case 0:
		s.headerPos = 1
		return s.cur.status, true
	case 1:
		s.headerPos = 2
		return "", true // header/body boundary
	default:
		return "", false
	}
}

func (s *scriptedTransport) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, transport.ErrNotConnected
	}
	if s.cur == nil || s.pos >= len(s.cur.stream) {
		if s.cur != nil && s.cur.dropAfter {
			s.connected = false
			return 0, transport.ErrClosed
		}
		return 0, nil
	}
	n := copy(buf, s.cur.stream[s.pos:])
	s.pos += n
	return n, nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *scriptedTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedTransport) requestLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// harness wires a client to a scripted transport and a manual clock.
type harness struct {
	client *Client
	clock  *manualClock
	trans  *scriptedTransport
	sink   *bytes.Buffer
}

func newHarness(t *testing.T, cfg config.StreamConfig, attempts ...scriptedAttempt) *harness {
	t.Helper()
	h := &harness{
		clock: newManualClock(),
		trans: &scriptedTransport{attempts: attempts},
		sink:  &bytes.Buffer{},
	}
	h.client = New(Options{
		TransportFactory: func() transport.Transport { return h.trans },
		Clock:            h.clock,
	})
	if err := h.client.Begin(cfg, h.sink); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return h
}

// tick advances the state machine n times.
func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.client.Tick()
	}
}

// flushTick pushes the clock past the flush cadence and ticks once so the
// accumulators land in the registry.
func (h *harness) flushTick() {
	h.clock.Advance(stats.FlushInterval + time.Millisecond)
	h.client.Tick()
}

func baseConfig() config.StreamConfig {
	return config.StreamConfig{
		Host:                "caster.example.net",
		Port:                2101,
		Mount:               "MOUNT1",
		User:                "alice",
		Pass:                "secret",
		MaxTries:            5,
		RetryDelay:          30 * time.Second,
		HealthTimeout:       60 * time.Second,
		PassiveSample:       5 * time.Second,
		RequiredValidFrames: 3,
		BufferSize:          1024,
		ConnectTimeout:      5 * time.Second,
		Rev1Fallback:        false,
	}
}

func streamOf(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// S1: caster accepts, three valid 1077 frames arrive.
func TestHappyPath(t *testing.T) {
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status: "ICY 200 OK",
		stream: streamOf(frame1077, frame1077, frame1077),
	})

	h.tick(1) // DISCONNECTED -> CONNECTING -> STREAMING
	if h.client.State() != ntrip.StateStreaming {
		t.Fatalf("state = %v, want STREAMING", h.client.State())
	}
	if h.client.IsHealthy() {
		t.Fatal("healthy before any frame")
	}

	h.tick(1) // read + validate the three frames
	if !h.client.IsHealthy() {
		t.Fatal("not healthy after three valid frames")
	}

	h.flushTick()
	s := h.client.GetStats()
	if s.TotalFrames != 3 {
		t.Errorf("total frames = %d, want 3", s.TotalFrames)
	}
	if s.LastMessageType != 1077 {
		t.Errorf("last message type = %d, want 1077", s.LastMessageType)
	}
	if s.ProtocolVersion != 2 {
		t.Errorf("protocol version = %d, want 2", s.ProtocolVersion)
	}
	if s.Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", s.Reconnects)
	}
	if h.client.GetLastError() != ntrip.ErrNone {
		t.Errorf("last error = %v, want NONE", h.client.GetLastError())
	}
}

// Property 6: every delivered byte reaches the sink exactly once, in order,
// before validation.
func TestFastPathForwardsAllBytes(t *testing.T) {
	corrupt := make([]byte, len(frame1077))
	copy(corrupt, frame1077)
	corrupt[9] ^= 0xFF

	payload := streamOf(frame1077, corrupt, frame1077, frame1077)
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status: "ICY 200 OK",
		stream: payload,
	})

	h.tick(2)
	if !bytes.Equal(h.sink.Bytes(), payload) {
		t.Fatalf("sink received %d bytes, want the full %d-byte stream",
			h.sink.Len(), len(payload))
	}

	h.flushTick()
	s := h.client.GetStats()
	if s.CRCErrors != 1 {
		t.Errorf("crc errors = %d, want 1", s.CRCErrors)
	}
	if s.BytesReceived != uint64(len(payload)) {
		t.Errorf("bytes received = %d, want %d", s.BytesReceived, len(payload))
	}
}

// S2: 401 on the status line.
func TestAuthFailure(t *testing.T) {
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status: "HTTP/1.1 401 Unauthorized",
	})

	h.tick(1)
	if h.client.State() != ntrip.StateDisconnected {
		t.Fatalf("state = %v, want DISCONNECTED", h.client.State())
	}
	if h.client.GetLastError() != ntrip.ErrHTTPAuthFailed {
		t.Errorf("last error = %v, want HTTP_AUTH_FAILED", h.client.GetLastError())
	}
	if h.client.failures != 1 {
		t.Errorf("failures = %d, want 1", h.client.failures)
	}
}

// S3: 404 on the status line.
func TestMountNotFound(t *testing.T) {
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status: "HTTP/1.1 404 Not Found",
	})

	h.tick(1)
	if h.client.GetLastError() != ntrip.ErrHTTPMountNotFound {
		t.Errorf("last error = %v, want HTTP_MOUNT_NOT_FOUND", h.client.GetLastError())
	}
}

// S4: two failed attempts with maxTries=2 lock the client out; Reset clears.
func TestLockoutAndReset(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTries = 2
	h := newHarness(t, cfg,
		scriptedAttempt{status: "HTTP/1.1 401 Unauthorized"},
		scriptedAttempt{status: "HTTP/1.1 401 Unauthorized"},
	)

	h.tick(1) // attempt 1 fails
	h.clock.Advance(cfg.RetryDelay + time.Second)
	h.tick(1) // attempt 2 fails
	h.clock.Advance(cfg.RetryDelay + time.Second)
	h.tick(1) // failures == maxTries -> LOCKED_OUT

	if h.client.State() != ntrip.StateLockedOut {
		t.Fatalf("state = %v, want LOCKED_OUT", h.client.State())
	}
	if h.client.GetLastError() != ntrip.ErrMaxRetriesExceeded {
		t.Errorf("last error = %v, want MAX_RETRIES_EXCEEDED", h.client.GetLastError())
	}

	h.client.Reset()
	h.tick(1)
	if h.client.State() != ntrip.StateDisconnected {
		t.Fatalf("state after reset = %v, want DISCONNECTED", h.client.State())
	}
	if h.client.failures != 0 {
		t.Errorf("failures after reset = %d, want 0", h.client.failures)
	}
	if h.client.GetLastError() != ntrip.ErrNone {
		t.Errorf("last error after reset = %v, want NONE", h.client.GetLastError())
	}
}

// S5: validated stream goes silent past the health timeout.
func TestZombieDetectionAndRecovery(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg,
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
	)

	h.tick(2)
	if !h.client.IsHealthy() {
		t.Fatal("stream did not validate")
	}

	// Silence for longer than the health timeout.
	h.clock.Advance(cfg.HealthTimeout + time.Second)
	h.tick(1)

	if h.client.State() != ntrip.StateDisconnected {
		t.Fatalf("state = %v, want DISCONNECTED", h.client.State())
	}
	if h.client.GetLastError() != ntrip.ErrZombieStream {
		t.Errorf("last error = %v, want ZOMBIE_STREAM_DETECTED", h.client.GetLastError())
	}
	if h.client.IsHealthy() {
		t.Error("healthy flag survived the disconnect")
	}
	if h.client.failures != 1 {
		t.Errorf("failures = %d, want 1", h.client.failures)
	}

	// After the retry window the supervisor reconnects.
	h.clock.Advance(cfg.RetryDelay + time.Second)
	h.tick(2)
	if h.client.State() != ntrip.StateStreaming {
		t.Fatalf("state after retry = %v, want STREAMING", h.client.State())
	}
	if s := h.client.GetStats(); s.Reconnects != 2 {
		t.Errorf("reconnects = %d, want 2", s.Reconnects)
	}
}

// S7: Rev2 rejected with 400, Rev1 accepted.
func TestRev1Fallback(t *testing.T) {
	cfg := baseConfig()
	cfg.Rev1Fallback = true
	h := newHarness(t, cfg,
		scriptedAttempt{status: "HTTP/1.1 400 Bad Request"},
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
	)

	h.tick(2)
	if h.client.State() != ntrip.StateStreaming {
		t.Fatalf("state = %v, want STREAMING", h.client.State())
	}

	h.flushTick()
	if s := h.client.GetStats(); s.ProtocolVersion != 1 {
		t.Errorf("protocol version = %d, want 1", s.ProtocolVersion)
	}

	reqs := h.trans.requestLines()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if !strings.Contains(reqs[0], "HTTP/1.1\r\n") {
		t.Errorf("first request is not Rev2:\n%s", reqs[0])
	}
	if !strings.Contains(reqs[1], "HTTP/1.0\r\n") {
		t.Errorf("fallback request is not Rev1:\n%s", reqs[1])
	}
}

// Socket dropped mid-stream surfaces TCP_CONNECT_FAILED and one failure.
func TestSocketClosedWhileStreaming(t *testing.T) {
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status:    "ICY 200 OK",
		stream:    streamOf(frame1077, frame1077, frame1077),
		dropAfter: true,
	})

	h.tick(2) // connect, stream the frames
	h.tick(1) // next read observes the close
	h.tick(1) // or the IsConnected check does

	if h.client.State() != ntrip.StateDisconnected {
		t.Fatalf("state = %v, want DISCONNECTED", h.client.State())
	}
	if h.client.GetLastError() != ntrip.ErrTCPConnectFailed {
		t.Errorf("last error = %v, want TCP_CONNECT_FAILED", h.client.GetLastError())
	}
	if h.client.failures != 1 {
		t.Errorf("failures = %d, want 1", h.client.failures)
	}
}

// Stop forces LOCKED_OUT; Reconnect leaves it and retries immediately.
func TestStopAndReconnect(t *testing.T) {
	h := newHarness(t, baseConfig(),
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
	)

	h.tick(2)
	if h.client.State() != ntrip.StateStreaming {
		t.Fatalf("state = %v, want STREAMING", h.client.State())
	}

	h.client.Stop()
	h.tick(1)
	if h.client.State() != ntrip.StateLockedOut {
		t.Fatalf("state after stop = %v, want LOCKED_OUT", h.client.State())
	}
	if h.client.failures < h.client.snap.MaxTries {
		t.Errorf("failures = %d, want >= maxTries", h.client.failures)
	}

	h.client.Reconnect()
	h.tick(1)
	if h.client.State() != ntrip.StateStreaming {
		t.Fatalf("state after reconnect = %v, want STREAMING", h.client.State())
	}
}

// Invalid configuration is rejected by Begin with no state change.
func TestBeginRejectsInvalidConfig(t *testing.T) {
	c := New(Options{Clock: newManualClock()})
	cfg := baseConfig()
	cfg.Host = ""
	if err := c.Begin(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("Begin accepted an empty host")
	}
	if c.State() != ntrip.StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", c.State())
	}
}

// Staged config is applied only at the connect boundary.
func TestConfigSnapshotAtBoundary(t *testing.T) {
	h := newHarness(t, baseConfig(),
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
		scriptedAttempt{
			status: "ICY 200 OK",
			stream: streamOf(frame1077, frame1077, frame1077),
		},
	)

	h.tick(2)
	updated := baseConfig()
	updated.Mount = "MOUNT2"
	if err := h.client.UpdateConfig(updated); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	// Still streaming with the old snapshot.
	if h.client.snap.Mount != "MOUNT1" {
		t.Fatalf("snapshot replaced mid-stream")
	}

	h.client.Reconnect()
	h.tick(1)
	if h.client.snap.Mount != "MOUNT2" {
		t.Fatalf("snapshot not refreshed at the connect boundary")
	}

	reqs := h.trans.requestLines()
	last := reqs[len(reqs)-1]
	if !strings.Contains(last, "GET /MOUNT2 ") {
		t.Errorf("reconnect request still targets the old mount:\n%s", last)
	}
}

// The task loop runs the same state machine on a real goroutine.
func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t, baseConfig(), scriptedAttempt{
		status: "ICY 200 OK",
		stream: streamOf(frame1077, frame1077, frame1077),
	})
	// The task uses the wall clock for pacing only; the manual clock still
	// times stamps. Swap in the system clock for an end-to-end run.
	h.client.clock = SystemClock()

	if err := h.client.StartTask(); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if err := h.client.StartTask(); err == nil {
		t.Error("duplicate StartTask accepted")
	}
	if !h.client.IsTaskRunning() {
		t.Error("IsTaskRunning = false after StartTask")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !h.client.IsHealthy() {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.client.IsHealthy() {
		t.Fatal("stream did not validate under the task loop")
	}

	if !h.client.StopTask() {
		t.Fatal("StopTask returned false for a running task")
	}
	if h.client.IsTaskRunning() {
		t.Error("IsTaskRunning = true after StopTask")
	}
	if h.client.StopTask() {
		t.Error("StopTask returned true with no task running")
	}
}
