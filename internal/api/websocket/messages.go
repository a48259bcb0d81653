package websocket

import (
	"time"

	"github.com/KevinKickass/OpenDO96/internal/devices"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeOutputsChanged MessageType = "outputs_changed"
	MessageTypeCardOpened     MessageType = "card_opened"
	MessageTypeCardClosed     MessageType = "card_closed"
	MessageTypeCardError      MessageType = "card_error"
	MessageTypeSystemStatus   MessageType = "system_status"
)

// Message represents a WebSocket message. Card is set for card events and
// used for per-client subscription filtering.
type Message struct {
	Type      MessageType `json:"type"`
	Card      string      `json:"card,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewCardEventMessage wraps a card event.
func NewCardEventMessage(ev devices.ChangeEvent) Message {
	return Message{
		Type:      MessageType(ev.Type),
		Card:      ev.Card,
		Timestamp: ev.Timestamp,
		Data:      ev,
	}
}

// clientMessage is what clients send: auth first, then subscriptions.
type clientMessage struct {
	Type  string   `json:"type"`
	Token string   `json:"token,omitempty"`
	Cards []string `json:"cards,omitempty"`
}
