package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/google/uuid"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State       string `json:"state"`
	CardCount   int    `json:"card_count"`
	OpenCards   int    `json:"open_cards"`
	Database    bool   `json:"database"`
	WSClients   int    `json:"ws_clients"`
	GRPCWatches int    `json:"grpc_watchers"`
}

// CardStore persists card registrations and the output journal.
// storage.PostgresClient implements it.
type CardStore interface {
	SaveCard(ctx context.Context, def types.CardDefinition) (uuid.UUID, error)
	DeleteCard(ctx context.Context, name string) error
	ListJournal(ctx context.Context, cardName string, limit int) ([]storage.JournalEntry, error)
}

type LifecycleManager interface {
	Config() *config.Config
	CardManager() *devices.Manager
	// CardStore is nil when the database is disabled.
	CardStore() CardStore
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
