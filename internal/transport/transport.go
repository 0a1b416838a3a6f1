// internal/transport/transport.go
package transport

import (
	"errors"
	"time"
)

// ErrNotConnected is returned by I/O calls on a transport that has no open
// connection.
var ErrNotConnected = errors.New("transport not connected")

// ErrClosed is returned when the peer has closed the connection.
var ErrClosed = errors.New("connection closed by peer")

// Transport is a connectable byte stream with millisecond timeouts. Read is
// non-blocking: it returns promptly with (0, nil) when no data is available
// so the supervisor's scheduling controls pacing.
type Transport interface {
	// Connect opens the stream to host:port, bounded by timeout.
	Connect(host string, port int, timeout time.Duration) error

	// Read fills buf with whatever is available right now. It returns
	// (0, nil) when no data is pending and an error when the connection is
	// closed or broken.
	Read(buf []byte) (int, error)

	// Write sends the whole buffer or fails.
	Write(data []byte) error

	// ReadLineCRLF reads one CRLF-terminated line, waiting no longer than
	// the absolute deadline. The returned line has the line ending trimmed.
	// ok is false if the deadline passed before a full line arrived.
	ReadLineCRLF(deadline time.Time) (line string, ok bool)

	// Close tears the connection down. Safe to call when not connected.
	Close() error

	// IsConnected reports whether the stream is believed open. It turns
	// false once a read or write observes the peer closing.
	IsConnected() bool
}

// Factory produces a fresh Transport for each connection attempt.
type Factory func() Transport
