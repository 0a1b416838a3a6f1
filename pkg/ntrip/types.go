// pkg/ntrip/types.go
package ntrip

import "time"

// Client identity used in the NTRIP User-Agent header.
const (
	ClientName    = "gnss-ntrip-client"
	ClientVersion = "1.0.0"
)

// State represents the connection state of the NTRIP stream.
// Written only by the supervisor; read by any goroutine.
type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateLockedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateLockedOut:
		return "LOCKED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ErrorKind classifies stream errors surfaced through the stats record.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrInvalidConfig
	ErrTCPConnectFailed
	ErrHTTPAuthFailed
	ErrHTTPMountNotFound
	ErrHTTPTimeout
	ErrHTTPUnknown
	ErrStreamValidationFailed
	ErrZombieStream
	ErrMaxRetriesExceeded
)

// String returns the error kind name.
func (e ErrorKind) String() string {
	switch e {
	case ErrNone:
		return "NONE"
	case ErrInvalidConfig:
		return "INVALID_CONFIG"
	case ErrTCPConnectFailed:
		return "TCP_CONNECT_FAILED"
	case ErrHTTPAuthFailed:
		return "HTTP_AUTH_FAILED"
	case ErrHTTPMountNotFound:
		return "HTTP_MOUNT_NOT_FOUND"
	case ErrHTTPTimeout:
		return "HTTP_TIMEOUT"
	case ErrHTTPUnknown:
		return "HTTP_UNKNOWN_ERROR"
	case ErrStreamValidationFailed:
		return "STREAM_VALIDATION_FAILED"
	case ErrZombieStream:
		return "ZOMBIE_STREAM_DETECTED"
	case ErrMaxRetriesExceeded:
		return "MAX_RETRIES_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// StreamError carries an ErrorKind plus the human-readable message that is
// published to observers through the stats record.
type StreamError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// NewStreamError builds a StreamError.
func NewStreamError(kind ErrorKind, message string) *StreamError {
	return &StreamError{Kind: kind, Message: message}
}

// Stats is a value-copy snapshot of the stream counters. Counters are
// monotonic for the lifetime of a client; latest-observed fields track the
// most recent frame and connection.
type Stats struct {
	TotalFrames      uint64        `json:"total_frames"`
	CRCErrors        uint64        `json:"crc_errors"`
	BytesReceived    uint64        `json:"bytes_received"`
	Reconnects       uint32        `json:"reconnects"`
	TotalUptime      time.Duration `json:"total_uptime"`
	LastMessageType  uint16        `json:"last_message_type"`
	LastFrameTime    time.Time     `json:"last_frame_time"`
	ConnectionStart  time.Time     `json:"connection_start"`
	ProtocolVersion  int           `json:"protocol_version"`
	LastError        ErrorKind     `json:"last_error"`
	LastErrorMessage string        `json:"last_error_message"`
}
