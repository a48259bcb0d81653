package types

import (
	"time"

	"github.com/google/uuid"
)

// CardProfileDefinition describes a USBDO96 variant: connection overrides
// and the default labels of its outputs.
type CardProfileDefinition struct {
	Profile    CardProfileInfo  `json:"profile" yaml:"profile"`
	Connection ConnectionConfig `json:"connection,omitempty" yaml:"connection,omitempty"`
	Channels   []ChannelLabel   `json:"channels,omitempty" yaml:"channels,omitempty"`
}

type CardProfileInfo struct {
	ID          string `json:"id" yaml:"id"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Model       string `json:"model" yaml:"model"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ConnectionConfig overrides the serial defaults. Zero means default.
type ConnectionConfig struct {
	BaudRate      int `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	ReadTimeoutMs int `json:"read_timeout_ms,omitempty" yaml:"read_timeout_ms,omitempty"`
	FrameGapMs    int `json:"frame_gap_ms,omitempty" yaml:"frame_gap_ms,omitempty"`
}

type ChannelLabel struct {
	Channel     int    `json:"channel" yaml:"channel"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CardDefinition is a card registration, from config or the database.
type CardDefinition struct {
	Name         string         `json:"name" binding:"required"`
	Port         string         `json:"port"`
	Profile      string         `json:"profile,omitempty"`
	IOMapping    map[string]int `json:"io_mapping,omitempty"`
	ResetOnClose bool           `json:"reset_on_close"`
	AutoInit     bool           `json:"auto_init"`
}

// Card Runtime Info
type CardInfo struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Port         string         `json:"port"`
	Profile      string         `json:"profile,omitempty"`
	Open         bool           `json:"open"`
	ResetOnClose bool           `json:"reset_on_close"`
	OnChannels   []int          `json:"on_channels"`
	IOMapping    map[string]int `json:"io_mapping,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
