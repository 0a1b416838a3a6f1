// internal/health/monitor.go
package health

import (
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/logging"
	"github.com/entr0-pi/gnss-ntrip-client/internal/rtcm"
	"github.com/entr0-pi/gnss-ntrip-client/internal/stats"
)

const tag = "health"

// PassiveScanBytes is how much of each read is scanned for the preamble once
// the stream has been validated. Full parsing is not worth the cost after
// the stream has proven itself; a cheap liveness probe suffices.
const PassiveScanBytes = 128

// Phase is the stream-health phase. It is meaningful only while the
// connection state is STREAMING.
type Phase uint8

const (
	// PhaseValidation parses every byte until enough valid frames arrive.
	PhaseValidation Phase = iota
	// PhaseStreaming samples reads for the preamble on an interval.
	PhaseStreaming
)

// String returns the phase name.
func (p Phase) String() string {
	if p == PhaseValidation {
		return "VALIDATION"
	}
	return "STREAMING"
}

// Monitor watches a live stream through two phases: strict validation of
// every byte until the required number of valid frames has been seen, then
// cheap passive preamble sampling. In both phases it tracks when the stream
// last looked alive so the supervisor can detect a zombie connection.
type Monitor struct {
	parser *rtcm.Parser
	cfg    config.StreamConfig
	log    logging.Func

	phase       Phase
	validFrames int
	lastHealth  time.Time
	lastSample  time.Time
	phaseStart  time.Time

	validationTime time.Duration
}

// NewMonitor returns a monitor with its own parser.
func NewMonitor(log logging.Func) *Monitor {
	return &Monitor{parser: rtcm.NewParser(), log: log}
}

// Begin arms the monitor for a fresh connection using the supervisor's
// config snapshot.
func (m *Monitor) Begin(now time.Time, cfg config.StreamConfig) {
	m.cfg = cfg
	m.parser.Reset()
	m.phase = PhaseValidation
	m.validFrames = 0
	m.lastHealth = now
	m.lastSample = time.Time{}
	m.phaseStart = now
	m.validationTime = 0
}

// Phase returns the current stream phase.
func (m *Monitor) Phase() Phase {
	return m.phase
}

// ValidationDuration returns how long validation took, once complete.
func (m *Monitor) ValidationDuration() time.Duration {
	return m.validationTime
}

// Observe inspects one read's worth of received bytes. Frame and CRC
// counters land in the supervisor's local accumulator, never in shared
// state. It returns true at the exact observation where the stream first
// satisfies the validation threshold.
func (m *Monitor) Observe(now time.Time, data []byte, acc *stats.Accumulator) bool {
	if len(data) == 0 {
		return false
	}
	if m.phase == PhaseValidation {
		return m.observeValidating(now, data, acc)
	}
	m.observePassive(now, data, acc)
	return false
}

// observeValidating parses every byte until the stream has produced the
// required number of valid frames.
func (m *Monitor) observeValidating(now time.Time, data []byte, acc *stats.Accumulator) bool {
	for _, b := range data {
		result := m.parser.Feed(b)

		if result.Valid {
			m.validFrames++
			m.lastHealth = now
			acc.Frames++
			acc.LastMessageType = result.MessageType
			acc.LastFrameTime = now

			m.log.Debugf(tag, "valid RTCM%d (%d/%d)",
				result.MessageType, m.validFrames, m.cfg.RequiredValidFrames)

			if m.validFrames >= m.cfg.RequiredValidFrames {
				m.phase = PhaseStreaming
				m.lastSample = now
				m.validationTime = now.Sub(m.phaseStart)
				m.log.Infof(tag, "stream validated in %v", m.validationTime)
				return true
			}
		} else if result.CRCError {
			acc.CRCErrors++
		}
	}
	return false
}

// observePassive scans the head of the read for the preamble every
// PassiveSample interval. A single miss logs a warning but does not revoke
// health; only the zombie timeout does that.
func (m *Monitor) observePassive(now time.Time, data []byte, acc *stats.Accumulator) {
	if now.Sub(m.lastSample) <= m.cfg.PassiveSample {
		return
	}

	limit := len(data)
	if limit > PassiveScanBytes {
		limit = PassiveScanBytes
	}

	for i := 0; i < limit; i++ {
		if data[i] == rtcm.Preamble {
			m.lastHealth = now
			m.lastSample = now
			acc.LastFrameTime = now
			return
		}
	}
	m.log.Warnf(tag, "no preamble in %d-byte sample", limit)
}

// Zombie reports whether the stream has gone longer than the health timeout
// without evidence of life.
func (m *Monitor) Zombie(now time.Time) bool {
	return now.Sub(m.lastHealth) > m.cfg.HealthTimeout
}

// SinceHealth returns how long ago the stream last looked alive.
func (m *Monitor) SinceHealth(now time.Time) time.Duration {
	return now.Sub(m.lastHealth)
}
