// internal/transport/tcp.go
package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/entr0-pi/gnss-ntrip-client/internal/logging"
)

const tag = "transport"

// readPollTimeout bounds a single non-blocking Read poll. Short enough that
// the supervisor tick never stalls noticeably.
const readPollTimeout = 5 * time.Millisecond

// TCPTransport implements Transport over a plain TCP connection.
type TCPTransport struct {
	log logging.Func

	mu        sync.Mutex
	conn      net.Conn
	connected bool
}

// NewTCP returns an unconnected TCP transport.
func NewTCP(log logging.Func) *TCPTransport {
	return &TCPTransport{log: log}
}

// NewTCPFactory returns a Factory producing TCP transports.
func NewTCPFactory(log logging.Func) Factory {
	return func() Transport { return NewTCP(log) }
}

// Connect dials host:port with the given timeout and enables keep-alive.
func (t *TCPTransport) Connect(host string, port int, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return fmt.Errorf("already connected")
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	t.conn = conn
	t.connected = true
	t.log.Debugf(tag, "connected to %s", address)
	return nil
}

// Read polls the socket without blocking. A deadline in the very near future
// turns the blocking socket read into a poll: timeouts mean "no data yet",
// anything else means the connection is gone.
func (t *TCPTransport) Read(buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
		t.markClosed()
		return 0, err
	}

	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		t.markClosed()
		if err == io.EOF {
			return n, ErrClosed
		}
		return n, err
	}
	return n, nil
}

// Write sends the full buffer.
func (t *TCPTransport) Write(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	n, err := conn.Write(data)
	if err != nil {
		t.markClosed()
		return fmt.Errorf("tcp write failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// ReadLineCRLF reads one header line byte by byte so no stream data beyond
// the line ending is buffered away from subsequent Read calls.
func (t *TCPTransport) ReadLineCRLF(deadline time.Time) (string, bool) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return "", false
	}

	var line []byte
	one := make([]byte, 1)

	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
			t.markClosed()
			return "", false
		}
		n, err := conn.Read(one)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.markClosed()
			return "", false
		}
		if n == 0 {
			continue
		}
		if one[0] == '\n' {
			// Trim the CR of a CRLF ending.
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return string(line), true
		}
		line = append(line, one[0])
	}
	return "", false
}

// Close shuts the connection down.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the stream is believed open.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *TCPTransport) markClosed() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}
