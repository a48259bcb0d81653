package storage

import (
	"time"

	"github.com/google/uuid"
)

type CardRecord struct {
	ID           uuid.UUID      `json:"id"`
	CardName     string         `json:"card_name"`
	Port         string         `json:"port"`
	Profile      string         `json:"profile"`
	IOMapping    map[string]int `json:"io_mapping"` // JSONB
	ResetOnClose bool           `json:"reset_on_close"`
	AutoInit     bool           `json:"auto_init"`
	Enabled      bool           `json:"enabled"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// JournalChange is one channel transition recorded in the journal.
type JournalChange struct {
	Channel int  `json:"channel"`
	On      bool `json:"on"`
}

type JournalEntry struct {
	ID          int64           `json:"id"`
	CardName    string          `json:"card_name"`
	Operation   string          `json:"operation"`
	OnChannels  []int32         `json:"on_channels"`
	OffChannels []int32         `json:"off_channels"`
	Changed     []JournalChange `json:"changed"` // JSONB
	Frames      int             `json:"frames"`
	Clusters    int             `json:"clusters"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
