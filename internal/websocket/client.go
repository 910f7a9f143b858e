package websocket

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Send buffer size
	sendBufferSize = 16
)

// MessageType represents the type of stream message
type MessageType string

const (
	MessageTypeStats MessageType = "stats"
	MessageTypeEvent MessageType = "event"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// Message is the envelope of every frame on the stream
type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Event     string      `json:"event,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a new message
func NewMessage(msgType MessageType, data any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewEventMessage creates a new event message
func NewEventMessage(event string, data any) *Message {
	msg := NewMessage(MessageTypeEvent, data)
	msg.Event = event
	return msg
}

// Client is one stream subscriber
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan *Message
	logger *zap.Logger

	// guards send against use after close
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new stream client
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan *Message, sendBufferSize),
		logger: logger,
	}
}

// ReadPump reads control messages from the peer until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			return
		}

		var message Message
		if err := sonic.Unmarshal(data, &message); err != nil {
			c.Send(&Message{Type: MessageTypeError, Data: "malformed message", Timestamp: time.Now()})
			continue
		}
		c.handleMessage(&message)
	}
}

// WritePump writes queued messages and keepalive pings to the peer
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("Failed to write message",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing:
		c.Send(&Message{
			Type:      MessageTypePong,
			Timestamp: time.Now(),
		})

	default:
		c.logger.Debug("Unknown message type",
			zap.String("client_id", c.ID),
			zap.String("type", string(message.Type)),
		)
	}
}

// Send queues a message for the client, dropping it if the buffer is full
func (c *Client) Send(message *Message) {
	if !c.deliver(message) {
		c.logger.Warn("Message dropped",
			zap.String("client_id", c.ID),
		)
	}
}

// deliver reports whether message was queued
func (c *Client) deliver(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
