package devices

import (
	"time"

	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/google/uuid"
)

type EventType string

const (
	EventOutputsChanged EventType = "outputs_changed"
	EventCardOpened     EventType = "card_opened"
	EventCardClosed     EventType = "card_closed"
	EventCardError      EventType = "card_error"
)

// ChangeEvent is published after every card operation, successful or not.
type ChangeEvent struct {
	Type      EventType        `json:"type"`
	CardID    uuid.UUID        `json:"card_id"`
	Card      string           `json:"card"`
	Operation string           `json:"operation"`
	On        []int            `json:"on,omitempty"`
	Off       []int            `json:"off,omitempty"`
	Changed   []usbdo96.Change `json:"changed,omitempty"`
	Frames    int              `json:"frames"`
	Clusters  int              `json:"clusters"`
	State     []int            `json:"state"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Listener receives card events. It is called synchronously and must not
// block.
type Listener func(ChangeEvent)
