// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/client"
	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/utils"
	"github.com/entr0-pi/gnss-ntrip-client/pkg/ntrip"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	client  *client.Client
	config  *config.Config
	logger  *utils.ServiceLogger
	started time.Time
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is one named health check outcome.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c *client.Client, cfg *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		client:  c,
		config:  cfg,
		logger:  utils.NewServiceLogger(logger, "health-handler"),
		started: time.Now(),
	}
}

// HealthCheck reports overall service health including the stream state.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.started).String(),
		Checks:    make(map[string]CheckResult),
	}

	state := h.client.State()
	streamCheck := CheckResult{Status: "healthy", Message: state.String()}
	switch {
	case h.client.IsHealthy():
		// streaming validated RTCM
	case state == ntrip.StateLockedOut:
		streamCheck.Status = "unhealthy"
		streamCheck.Message = h.client.GetErrorMessage()
		health.Status = "degraded"
	default:
		streamCheck.Status = "pending"
		health.Status = "degraded"
	}
	health.Checks["stream"] = streamCheck

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// LivenessCheck reports that the process is alive.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck reports whether the stream is validated and flowing.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.client.IsHealthy() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "not_ready",
		"state":  h.client.State().String(),
	})
}
