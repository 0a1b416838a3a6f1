// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/client"
	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/handler"
	"github.com/entr0-pi/gnss-ntrip-client/internal/middleware"
	"github.com/entr0-pi/gnss-ntrip-client/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config *config.Config
	logger *zap.Logger
	client *client.Client
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, logger *zap.Logger, c *client.Client) *Router {
	return &Router{
		config: cfg,
		logger: logger,
		client: c,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.client, r.config, r.logger)
	streamHandler := handler.NewStreamHandler(r.client, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.client, r.logger)

	// Health check routes
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	stream := apiV1.Group("/stream")
	{
		stream.GET("", streamHandler.GetStream)
		stream.GET("/stats", streamHandler.GetStats)
		stream.POST("/reset", streamHandler.ResetStream)
		stream.POST("/reconnect", streamHandler.ReconnectStream)
		stream.POST("/stop", streamHandler.StopStream)
	}

	// WebSocket routes
	ws := router.Group("/ws")
	{
		ws.GET("/stats", wsHandler.HandleStatsConnection)
	}

	r.logger.Info("All routes configured successfully")
}
