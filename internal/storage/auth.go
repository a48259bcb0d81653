package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrTokenRevoked = errors.New("refresh token revoked")
	ErrTokenExpired = errors.New("refresh token expired")
)

// User is an API account. Rows are scanned by column name.
type User struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	Username            string     `db:"username" json:"username"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	Role                string     `db:"role" json:"role"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"locked_until,omitempty"`
}

// MachineToken is a long-lived API credential for PLCs and scripts. Only the
// hash of the token is stored.
type MachineToken struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	TokenHash       string                 `db:"token_hash" json:"-"`
	Name            string                 `db:"name" json:"name"`
	Permissions     []string               `db:"permissions" json:"permissions"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	LastUsedAt      *time.Time             `db:"last_used_at" json:"last_used_at"`
	CreatedByUserID *uuid.UUID             `db:"created_by_user_id" json:"created_by_user_id"`
	Metadata        map[string]interface{} `db:"metadata" json:"metadata"`
}

const (
	userColumns  = `id, username, password_hash, role, created_at, last_login_at, failed_login_attempts, locked_until`
	tokenColumns = `id, token_hash, name, permissions, created_at, last_used_at, created_by_user_id, metadata`
)

func (p *PostgresClient) queryUser(ctx context.Context, sql string, args ...any) (*User, error) {
	rows, _ := p.pool.Query(ctx, sql, args...)
	return pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[User])
}

func (p *PostgresClient) queryToken(ctx context.Context, sql string, args ...any) (*MachineToken, error) {
	rows, _ := p.pool.Query(ctx, sql, args...)
	return pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[MachineToken])
}

func (p *PostgresClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := p.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (p *PostgresClient) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := p.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (p *PostgresClient) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	user, err := p.queryUser(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, username, passwordHash, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return user, nil
}

func (p *PostgresClient) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// IncrementFailedLoginAttempts counts a failed login and locks the account
// for lockFor once maxAttempts is reached.
func (p *PostgresClient) IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END
		WHERE id = $1
	`, userID, maxAttempts, lockFor.Seconds())
	return err
}

func (p *PostgresClient) ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE id = $1
	`, userID)
	return err
}

func (p *PostgresClient) CreateMachineToken(ctx context.Context, tokenHash, name string, permissions []string, createdByUserID *uuid.UUID, metadata map[string]interface{}) (*MachineToken, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	token, err := p.queryToken(ctx, `
		INSERT INTO machine_tokens (token_hash, name, permissions, created_by_user_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+tokenColumns, tokenHash, name, permissions, createdByUserID, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create machine token %s: %w", name, err)
	}
	return token, nil
}

func (p *PostgresClient) GetMachineTokenByHash(ctx context.Context, tokenHash string) (*MachineToken, error) {
	token, err := p.queryToken(ctx, `SELECT `+tokenColumns+` FROM machine_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return nil, notFound(err, "machine token")
	}
	return token, nil
}

func (p *PostgresClient) UpdateMachineTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE machine_tokens SET last_used_at = NOW() WHERE id = $1`, tokenID)
	return err
}

// ListMachineTokens returns every token, newest first.
func (p *PostgresClient) ListMachineTokens(ctx context.Context) ([]*MachineToken, error) {
	rows, _ := p.pool.Query(ctx, `SELECT `+tokenColumns+` FROM machine_tokens ORDER BY created_at DESC`)
	tokens, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[MachineToken])
	if err != nil {
		return nil, fmt.Errorf("failed to list machine tokens: %w", err)
	}
	return tokens, nil
}

func (p *PostgresClient) DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM machine_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to delete machine token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("machine token %w", ErrNotFound)
	}
	return nil
}

func (p *PostgresClient) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

// GetRefreshToken returns the owner of a live refresh token.
func (p *PostgresClient) GetRefreshToken(ctx context.Context, tokenHash string) (*uuid.UUID, error) {
	var (
		userID    uuid.UUID
		expiresAt time.Time
		revokedAt *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		return nil, notFound(err, "refresh token")
	}

	switch {
	case revokedAt != nil:
		return nil, ErrTokenRevoked
	case time.Now().After(expiresAt):
		return nil, ErrTokenExpired
	}
	return &userID, nil
}

func (p *PostgresClient) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	return err
}

func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, user_id, machine_token_id, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, eventType, userID, machineTokenID, ipAddress, userAgent, success, reason)
	return err
}
