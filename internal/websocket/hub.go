package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub maintains active stream subscribers and fans messages out to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run returns
	done chan struct{}

	mutex   sync.RWMutex
	logger  *zap.Logger
	metrics *HubMetrics
}

// HubMetrics holds hub metrics
type HubMetrics struct {
	TotalConnections  int64
	ActiveConnections int64
	TotalMessages     int64
	TotalBroadcasts   int64
	DroppedMessages   int64
	mutex             sync.RWMutex
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    &HubMetrics{},
	}
}

// Run serves hub operations until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.handleBroadcast(message)
		}
	}
}

// Done is closed once the hub has stopped
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register adds a client. It reports false if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a message to all clients. It reports false if the hub has stopped.
func (h *Hub) Broadcast(message *Message) bool {
	select {
	case h.broadcast <- message:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true

	h.metrics.mutex.Lock()
	h.metrics.TotalConnections++
	h.metrics.ActiveConnections++
	h.metrics.mutex.Unlock()

	h.logger.Debug("Stream client registered", zap.String("client_id", client.ID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.closeSend()

	h.metrics.mutex.Lock()
	h.metrics.ActiveConnections--
	h.metrics.mutex.Unlock()

	h.logger.Debug("Stream client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) disconnectAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		client.closeSend()
	}

	h.metrics.mutex.Lock()
	h.metrics.ActiveConnections = 0
	h.metrics.mutex.Unlock()

	h.logger.Debug("Stream hub stopped")
}

func (h *Hub) handleBroadcast(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.metrics.mutex.Lock()
	h.metrics.TotalBroadcasts++
	h.metrics.mutex.Unlock()

	for client := range h.clients {
		if client.deliver(message) {
			h.metrics.mutex.Lock()
			h.metrics.TotalMessages++
			h.metrics.mutex.Unlock()
			continue
		}
		// a slow reader misses this snapshot; the next one supersedes it
		h.metrics.mutex.Lock()
		h.metrics.DroppedMessages++
		h.metrics.mutex.Unlock()
		h.logger.Warn("Client send buffer full", zap.String("client_id", client.ID))
	}
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// GetMetrics returns hub metrics
func (h *Hub) GetMetrics() HubMetrics {
	h.metrics.mutex.RLock()
	defer h.metrics.mutex.RUnlock()
	return HubMetrics{
		TotalConnections:  h.metrics.TotalConnections,
		ActiveConnections: h.metrics.ActiveConnections,
		TotalMessages:     h.metrics.TotalMessages,
		TotalBroadcasts:   h.metrics.TotalBroadcasts,
		DroppedMessages:   h.metrics.DroppedMessages,
	}
}
