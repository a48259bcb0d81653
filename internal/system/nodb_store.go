package system

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/google/uuid"
)

// ErrDatabaseDisabled is returned by everything that needs the database
// when it is turned off. JWT validation keeps working without it.
var ErrDatabaseDisabled = errors.New("database disabled")

type noDatabaseStore struct{}

func (noDatabaseStore) GetUserByUsername(context.Context, string) (*storage.User, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) GetUserByID(context.Context, uuid.UUID) (*storage.User, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) CreateUser(context.Context, string, string, string) (*storage.User, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) UpdateLastLogin(context.Context, uuid.UUID) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) IncrementFailedLoginAttempts(context.Context, uuid.UUID, int, time.Duration) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) ResetFailedLoginAttempts(context.Context, uuid.UUID) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) CreateMachineToken(context.Context, string, string, []string, *uuid.UUID, map[string]interface{}) (*storage.MachineToken, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) GetMachineTokenByHash(context.Context, string) (*storage.MachineToken, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) UpdateMachineTokenLastUsed(context.Context, uuid.UUID) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) ListMachineTokens(context.Context) ([]*storage.MachineToken, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) DeleteMachineToken(context.Context, uuid.UUID) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) StoreRefreshToken(context.Context, uuid.UUID, string, time.Time) error {
	return ErrDatabaseDisabled
}

func (noDatabaseStore) GetRefreshToken(context.Context, string) (*uuid.UUID, error) {
	return nil, ErrDatabaseDisabled
}

func (noDatabaseStore) RevokeRefreshToken(context.Context, string) error {
	return ErrDatabaseDisabled
}

// Auth events are silently discarded.
func (noDatabaseStore) LogAuthEvent(context.Context, string, *uuid.UUID, *uuid.UUID, string, string, bool, string) error {
	return nil
}
