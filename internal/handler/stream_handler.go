// internal/handler/stream_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/client"
	"github.com/entr0-pi/gnss-ntrip-client/internal/utils"
	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

// StreamHandler exposes the supervisor's queries and control operations over
// the monitoring API.
type StreamHandler struct {
	client *client.Client
	logger *utils.ServiceLogger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(c *client.Client, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		client: c,
		logger: utils.NewServiceLogger(logger, "stream-handler"),
	}
}

// StreamStatus is the API view of the connection state.
type StreamStatus struct {
	State           string `json:"state"`
	Streaming       bool   `json:"streaming"`
	Healthy         bool   `json:"healthy"`
	ProtocolVersion int    `json:"protocol_version"`
	LastError       string `json:"last_error"`
	LastErrorDetail string `json:"last_error_detail,omitempty"`
}

// StatsView is the API view of a stats snapshot.
type StatsView struct {
	TotalFrames      uint64    `json:"total_frames"`
	CRCErrors        uint64    `json:"crc_errors"`
	BytesReceived    uint64    `json:"bytes_received"`
	Reconnects       uint32    `json:"reconnects"`
	UptimeMs         int64     `json:"uptime_ms"`
	LastMessageType  uint16    `json:"last_message_type"`
	LastFrameTime    time.Time `json:"last_frame_time"`
	ConnectionStart  time.Time `json:"connection_start"`
	ProtocolVersion  int       `json:"protocol_version"`
	LastError        string    `json:"last_error"`
	LastErrorMessage string    `json:"last_error_message,omitempty"`
}

func statusOf(c *client.Client) StreamStatus {
	stats := c.GetStats()
	return StreamStatus{
		State:           c.State().String(),
		Streaming:       c.IsStreaming(),
		Healthy:         c.IsHealthy(),
		ProtocolVersion: stats.ProtocolVersion,
		LastError:       stats.LastError.String(),
		LastErrorDetail: stats.LastErrorMessage,
	}
}

func viewOf(s ntrip.Stats) StatsView {
	return StatsView{
		TotalFrames:      s.TotalFrames,
		CRCErrors:        s.CRCErrors,
		BytesReceived:    s.BytesReceived,
		Reconnects:       s.Reconnects,
		UptimeMs:         s.TotalUptime.Milliseconds(),
		LastMessageType:  s.LastMessageType,
		LastFrameTime:    s.LastFrameTime,
		ConnectionStart:  s.ConnectionStart,
		ProtocolVersion:  s.ProtocolVersion,
		LastError:        s.LastError.String(),
		LastErrorMessage: s.LastErrorMessage,
	}
}

// GetStream returns the current stream status.
func (h *StreamHandler) GetStream(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Stream status", statusOf(h.client))
}

// GetStats returns the full stats snapshot.
func (h *StreamHandler) GetStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Stream statistics", viewOf(h.client.GetStats()))
}

// ResetStream clears the failure counter and any lockout.
func (h *StreamHandler) ResetStream(c *gin.Context) {
	h.client.Reset()
	h.logger.Info("Stream reset requested")
	utils.SuccessResponse(c, http.StatusOK, "Reset requested", nil)
}

// ReconnectStream forces an immediate reconnection attempt.
func (h *StreamHandler) ReconnectStream(c *gin.Context) {
	h.client.Reconnect()
	h.logger.Info("Stream reconnect requested")
	utils.SuccessResponse(c, http.StatusOK, "Reconnect requested", nil)
}

// StopStream disconnects and locks the client out until reset.
func (h *StreamHandler) StopStream(c *gin.Context) {
	h.client.Stop()
	h.logger.Info("Stream stop requested")
	utils.SuccessResponse(c, http.StatusOK, "Stop requested", nil)
}
