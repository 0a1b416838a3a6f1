// internal/stats/registry.go
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

// FlushInterval is how often the supervisor merges its local accumulators
// into the shared record. Observers therefore see counter updates at most
// this far behind the event.
const FlushInterval = 250 * time.Millisecond

// Accumulator collects hot-path counters locally so the supervisor never
// takes the registry guard per byte. It is owned by the supervisor goroutine
// and merged via Registry.Flush.
type Accumulator struct {
	Bytes           uint64
	Frames          uint64
	CRCErrors       uint64
	LastMessageType uint16
	LastFrameTime   time.Time
}

// Reset clears the accumulator after a flush.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Registry is the single observer-visible record of stream state: the
// guarded stats snapshot plus the lock-free state and healthy flags. The
// guard is a leaf: nothing blocking happens while it is held, and hold
// times are a handful of scalar assignments.
type Registry struct {
	mu    sync.Mutex
	stats ntrip.Stats

	state   atomic.Uint32
	healthy atomic.Bool
}

// NewRegistry returns a registry in the DISCONNECTED state.
func NewRegistry() *Registry {
	return &Registry{}
}

// State returns the published connection state.
func (r *Registry) State() ntrip.State {
	return ntrip.State(r.state.Load())
}

// SetState publishes a state transition. Single writer: the supervisor.
func (r *Registry) SetState(s ntrip.State) {
	r.state.Store(uint32(s))
}

// Healthy returns the published health flag.
func (r *Registry) Healthy() bool {
	return r.healthy.Load()
}

// SetHealthy publishes the health flag.
func (r *Registry) SetHealthy(h bool) {
	r.healthy.Store(h)
}

// Snapshot returns a consistent value copy of the stats record.
func (r *Registry) Snapshot() ntrip.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastError returns the current error kind and message.
func (r *Registry) LastError() (ntrip.ErrorKind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.LastError, r.stats.LastErrorMessage
}

// SetError records an error. Callable from any goroutine; the supervisor
// always publishes the matching state change after this returns, so
// observers that see LOCKED_OUT also see the error that justified it.
func (r *Registry) SetError(kind ntrip.ErrorKind, message string) {
	r.mu.Lock()
	r.stats.LastError = kind
	r.stats.LastErrorMessage = message
	r.mu.Unlock()
}

// ClearError resets the error fields.
func (r *Registry) ClearError() {
	r.mu.Lock()
	r.stats.LastError = ntrip.ErrNone
	r.stats.LastErrorMessage = ""
	r.mu.Unlock()
}

// ConnectionEstablished records a successful caster handshake: bumps the
// reconnect counter, stamps the connection start, stores the negotiated
// protocol version and clears any stale error.
func (r *Registry) ConnectionEstablished(now time.Time, protocolVersion int) {
	r.mu.Lock()
	r.stats.Reconnects++
	r.stats.ConnectionStart = now
	r.stats.ProtocolVersion = protocolVersion
	r.stats.LastError = ntrip.ErrNone
	r.stats.LastErrorMessage = ""
	r.mu.Unlock()
}

// ConnectionClosed marks the stream as down. The protocol version drops to
// zero and the uptime counter freezes at its last flushed value.
func (r *Registry) ConnectionClosed() {
	r.mu.Lock()
	r.stats.ProtocolVersion = 0
	r.mu.Unlock()
}

// Flush merges the supervisor's local accumulators into the shared record
// and resets them. Uptime is recomputed only while connected.
func (r *Registry) Flush(acc *Accumulator, now time.Time) {
	r.mu.Lock()
	r.stats.BytesReceived += acc.Bytes
	r.stats.TotalFrames += acc.Frames
	r.stats.CRCErrors += acc.CRCErrors
	if acc.LastMessageType != 0 {
		r.stats.LastMessageType = acc.LastMessageType
	}
	if !acc.LastFrameTime.IsZero() {
		r.stats.LastFrameTime = acc.LastFrameTime
	}
	if r.stats.ProtocolVersion != 0 && !r.stats.ConnectionStart.IsZero() {
		r.stats.TotalUptime = now.Sub(r.stats.ConnectionStart)
	}
	r.mu.Unlock()

	acc.Reset()
}
