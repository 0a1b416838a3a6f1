// internal/handler/websocket_handler.go
package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/client"
	"github.com/entr0-pi/gnss-ntrip-client/internal/utils"
)

// statsPushInterval is how often connected observers receive a snapshot.
const statsPushInterval = time.Second

// WebSocketHandler pushes live stream status to observer UIs.
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	client      *client.Client
	logger      *utils.ServiceLogger
}

// Client is one connected observer.
type Client struct {
	ID          string
	Connection  *websocket.Conn
	RemoteAddr  string
	ConnectedAt time.Time
}

// ConnectionManager tracks connected observers.
type ConnectionManager struct {
	mutex   sync.Mutex
	clients map[string]*Client
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{clients: make(map[string]*Client)}
}

// Register adds a client.
func (cm *ConnectionManager) Register(c *Client) {
	cm.mutex.Lock()
	cm.clients[c.ID] = c
	cm.mutex.Unlock()
}

// Unregister removes a client.
func (cm *ConnectionManager) Unregister(id string) {
	cm.mutex.Lock()
	delete(cm.clients, id)
	cm.mutex.Unlock()
}

// Count returns the number of connected observers.
func (cm *ConnectionManager) Count() int {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	return len(cm.clients)
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(c *client.Client, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: NewConnectionManager(),
		client:      c,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// statsEvent is the wire format pushed to observers.
type statsEvent struct {
	Type   string       `json:"type"`
	Status StreamStatus `json:"status"`
	Stats  StatsView    `json:"stats"`
	Time   time.Time    `json:"time"`
}

// HandleStatsConnection upgrades the request and streams periodic snapshots
// until the observer disconnects.
func (h *WebSocketHandler) HandleStatsConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	wc := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	h.connections.Register(wc)
	h.logger.Info("Stats WebSocket client connected",
		zap.String("client_id", wc.ID),
		zap.String("remote_addr", wc.RemoteAddr),
	)

	done := make(chan struct{})

	// Reader: only watches for close/errors, incoming data is ignored.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statsPushInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		h.connections.Unregister(wc.ID)
		h.logger.Info("Stats WebSocket client disconnected",
			zap.String("client_id", wc.ID),
		)
	}()

	// Push an immediate snapshot so the UI renders without waiting a tick.
	if err := h.push(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.push(conn); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) push(conn *websocket.Conn) error {
	event := statsEvent{
		Type:   "stream_stats",
		Status: statusOf(h.client),
		Stats:  viewOf(h.client.GetStats()),
		Time:   time.Now(),
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(event)
}
