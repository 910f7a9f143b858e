package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
)

// Config holds stats stream configuration
type Config struct {
	Path              string        `mapstructure:"path"`
	Interval          time.Duration `mapstructure:"interval"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Path:              "/queue/stream",
		Interval:          time.Second,
		AllowedOrigins:    []string{"*"},
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
}

// StatsSource supplies the snapshots pushed to subscribers
type StatsSource interface {
	Stats() requestqueue.Stats
}

// Handler upgrades stream subscribers and publishes queue stats to them
type Handler struct {
	config   *Config
	hub      *Hub
	source   StatsSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new stream handler
func NewHandler(config *Config, hub *Hub, source StatsSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		config: config,
		hub:    hub,
		source: source,
		logger: logger,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    config.ReadBufferSize,
		WriteBufferSize:   config.WriteBufferSize,
		HandshakeTimeout:  config.HandshakeTimeout,
		EnableCompression: config.EnableCompression,
		CheckOrigin:       h.checkOrigin,
	}

	return h
}

// RegisterRoutes registers stream routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET(h.config.Path, h.handleWebSocket)
	router.GET(h.config.Path+"/status", h.handleStatus)
}

// handleWebSocket upgrades the connection and sends the current snapshot right away
func (h *Handler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, h.logger)
	if !h.hub.Register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client.Send(NewMessage(MessageTypeStats, h.source.Stats()))

	go client.WritePump()
	go client.ReadPump()
}

// handleStatus returns stream hub status
func (h *Handler) handleStatus(c *gin.Context) {
	metrics := h.hub.GetMetrics()

	c.JSON(http.StatusOK, gin.H{
		"interval":          h.config.Interval.String(),
		"activeConnections": metrics.ActiveConnections,
		"totalConnections":  metrics.TotalConnections,
		"totalMessages":     metrics.TotalMessages,
		"totalBroadcasts":   metrics.TotalBroadcasts,
		"droppedMessages":   metrics.DroppedMessages,
	})
}

// checkOrigin checks if the origin is allowed
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// Publish broadcasts a stats snapshot every Interval while subscribers are
// connected. It returns when ctx is done or the hub stops.
func (h *Handler) Publish(ctx context.Context) {
	if h.config.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.hub.Done():
			return
		case <-ticker.C:
			if h.hub.GetClientCount() == 0 {
				continue
			}
			if !h.hub.Broadcast(NewMessage(MessageTypeStats, h.source.Stats())) {
				return
			}
		}
	}
}

// GetHub returns the hub
func (h *Handler) GetHub() *Hub {
	return h.hub
}
