// internal/caster/session.go
package caster

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/logging"
	"github.com/entr0-pi/gnss-ntrip-client/internal/transport"
	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

const tag = "caster"

// Session performs one attempt to bring a transport from TCP-connected to
// "binary RTCM stream begins on the next byte". It owns nothing: the
// transport is handed in by the supervisor, which keeps it on success and
// closes it on failure.
type Session struct {
	transport transport.Transport
	cfg       config.StreamConfig
	log       logging.Func
}

// NewSession wraps a transport and a config snapshot.
func NewSession(t transport.Transport, cfg config.StreamConfig, log logging.Func) *Session {
	return &Session{transport: t, cfg: cfg, log: log}
}

// Negotiate connects to the caster, preferring NTRIP Rev2. On any Rev2
// failure with the fallback enabled, the transport is closed and one Rev1
// attempt is made. Returns the negotiated protocol version (1 or 2) or the
// error of the last attempt.
func (s *Session) Negotiate() (int, *ntrip.StreamError) {
	err := s.connect(true)
	if err == nil {
		return 2, nil
	}

	if !s.cfg.Rev1Fallback {
		return 0, err
	}

	s.log.Warnf(tag, "Rev2 handshake failed (%s), falling back to Rev1", err.Kind)
	s.transport.Close()

	if err = s.connect(false); err == nil {
		return 1, nil
	}
	return 0, err
}

// connect runs the full handshake for one protocol revision.
func (s *Session) connect(useRev2 bool) *ntrip.StreamError {
	cfg := s.cfg

	if err := s.transport.Connect(cfg.Host, cfg.Port, cfg.ConnectTimeout); err != nil {
		return ntrip.NewStreamError(ntrip.ErrTCPConnectFailed,
			fmt.Sprintf("cannot reach %s:%d: %v", cfg.Host, cfg.Port, err))
	}

	if err := s.transport.Write([]byte(s.buildRequest(useRev2))); err != nil {
		s.transport.Close()
		return ntrip.NewStreamError(ntrip.ErrTCPConnectFailed,
			fmt.Sprintf("request write failed: %v", err))
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	line, ok := s.transport.ReadLineCRLF(deadline)
	if !ok {
		s.transport.Close()
		return ntrip.NewStreamError(ntrip.ErrHTTPTimeout,
			fmt.Sprintf("no response from %s within %v", cfg.Host, cfg.ConnectTimeout))
	}

	s.log.Infof(tag, "caster response: %s", line)

	if isAccepted(line) {
		s.drainHeaders(deadline)
		return nil
	}

	s.transport.Close()
	return classifyRejection(line, cfg)
}

// buildRequest renders the exact NTRIP request for the chosen revision.
func (s *Session) buildRequest(useRev2 bool) string {
	cfg := s.cfg
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Pass))

	var b strings.Builder
	b.WriteString("GET /")
	b.WriteString(cfg.Mount)
	if useRev2 {
		b.WriteString(" HTTP/1.1\r\n")
	} else {
		b.WriteString(" HTTP/1.0\r\n")
	}

	fmt.Fprintf(&b, "User-Agent: NTRIP %s v%s\r\n", ntrip.ClientName, ntrip.ClientVersion)

	if useRev2 {
		fmt.Fprintf(&b, "Host: %s\r\n", cfg.Host)
		b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	}

	fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)

	if useRev2 && cfg.GGASentence != "" {
		fmt.Fprintf(&b, "Ntrip-GGA: %s\r\n", cfg.GGASentence)
	}

	b.WriteString("\r\n")
	return b.String()
}

// drainHeaders consumes header lines until the empty line marking the
// header/body boundary. Some casters elide the boundary after "ICY 200", so
// hitting the deadline is logged as a warning but still counts as success.
func (s *Session) drainHeaders(deadline time.Time) {
	for {
		line, ok := s.transport.ReadLineCRLF(deadline)
		if !ok {
			s.log.Warnf(tag, "header drain timed out, proceeding anyway")
			return
		}
		if line == "" {
			s.log.Debugf(tag, "headers drained, binary stream starting")
			return
		}
	}
}

// isAccepted reports whether the status line announces a usable stream.
func isAccepted(line string) bool {
	return strings.HasPrefix(line, "ICY 200") ||
		strings.HasPrefix(line, "HTTP/1.1 200") ||
		strings.HasPrefix(line, "HTTP/1.0 200")
}

// classifyRejection maps a non-200 status line onto the error taxonomy.
func classifyRejection(line string, cfg config.StreamConfig) *ntrip.StreamError {
	switch {
	case strings.Contains(line, "401"):
		return ntrip.NewStreamError(ntrip.ErrHTTPAuthFailed,
			fmt.Sprintf("invalid credentials for %s", cfg.Host))
	case strings.Contains(line, "404"):
		return ntrip.NewStreamError(ntrip.ErrHTTPMountNotFound,
			fmt.Sprintf("mount not found: %s", cfg.Mount))
	default:
		return ntrip.NewStreamError(ntrip.ErrHTTPUnknown,
			fmt.Sprintf("HTTP error: %s", line))
	}
}
