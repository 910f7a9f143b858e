package websocket

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMessageType_Constants(t *testing.T) {
	tests := []struct {
		name     string
		msgType  MessageType
		expected string
	}{
		{"Stats", MessageTypeStats, "stats"},
		{"Event", MessageTypeEvent, "event"},
		{"Ping", MessageTypePing, "ping"},
		{"Pong", MessageTypePong, "pong"},
		{"Error", MessageTypeError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.msgType) != tt.expected {
				t.Errorf("MessageType = %v, want %v", tt.msgType, tt.expected)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	before := time.Now()
	msg := NewMessage(MessageTypeStats, "hello")
	after := time.Now()

	if msg.ID == "" {
		t.Error("ID should not be empty")
	}
	if msg.Type != MessageTypeStats {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeStats)
	}
	if msg.Data != "hello" {
		t.Errorf("Data = %v, want hello", msg.Data)
	}
	if msg.Timestamp.Before(before) || msg.Timestamp.After(after) {
		t.Error("Timestamp should be between before and after")
	}
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage("cache.cleared", nil)

	if msg.Type != MessageTypeEvent {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeEvent)
	}
	if msg.Event != "cache.cleared" {
		t.Errorf("Event = %v, want cache.cleared", msg.Event)
	}
}

func TestClient_DeliverAfterClose(t *testing.T) {
	client := NewClient(NewHub(nil), nil, zap.NewNop())

	if !client.deliver(NewMessage(MessageTypePing, nil)) {
		t.Fatal("deliver() = false on an open client")
	}

	client.closeSend()
	client.closeSend()

	if client.deliver(NewMessage(MessageTypePing, nil)) {
		t.Error("deliver() = true after close")
	}
	// must not panic
	client.Send(NewMessage(MessageTypePing, nil))
}

func TestClient_DeliverFullBuffer(t *testing.T) {
	client := NewClient(NewHub(nil), nil, zap.NewNop())

	for i := 0; i < sendBufferSize; i++ {
		if !client.deliver(NewMessage(MessageTypeStats, i)) {
			t.Fatalf("deliver() = false at %d", i)
		}
	}
	if client.deliver(NewMessage(MessageTypeStats, "overflow")) {
		t.Error("deliver() = true on a full buffer")
	}
}

func TestClient_HandlePing(t *testing.T) {
	client := NewClient(NewHub(nil), nil, zap.NewNop())

	client.handleMessage(&Message{Type: MessageTypePing})
	client.handleMessage(&Message{Type: "subscribe"})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypePong {
			t.Errorf("Type = %v, want %v", msg.Type, MessageTypePong)
		}
	default:
		t.Fatal("no pong queued")
	}
	if len(client.send) != 0 {
		t.Errorf("queued %d extra messages", len(client.send))
	}
}
