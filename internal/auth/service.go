package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"   // read state, switch outputs
	PermTechnician Permission = "technician" // open and close sessions
	PermAdmin      Permission = "admin"      // register cards, tokens, shutdown
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
)

// Store is the persistence the auth service needs. storage.PostgresClient
// implements it.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error)
	CreateUser(ctx context.Context, username, passwordHash, role string) (*storage.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error

	CreateMachineToken(ctx context.Context, tokenHash, name string, permissions []string, createdByUserID *uuid.UUID, metadata map[string]interface{}) (*storage.MachineToken, error)
	GetMachineTokenByHash(ctx context.Context, tokenHash string) (*storage.MachineToken, error)
	UpdateMachineTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error
	ListMachineTokens(ctx context.Context) ([]*storage.MachineToken, error)
	DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error

	StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*uuid.UUID, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	LogAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error
}

type AuthService struct {
	store           Store
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	maxFailed       int
	lockFor         time.Duration
	logger          *zap.Logger
}

func NewAuthService(store Store, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:           store,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		maxFailed:       cfg.MaxFailedLoginAttempts,
		lockFor:         cfg.AccountLockDuration,
		logger:          logger,
	}
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (a *AuthService) AccessTokenTTL() time.Duration {
	return a.jwtHandler.AccessTokenTTL()
}

// WithPasswordHasher replaces the default hasher.
func (a *AuthService) WithPasswordHasher(ph *PasswordHasher) *AuthService {
	a.passwordHasher = ph
	return a
}

// GenerateAccessToken issues an access token without a login round trip.
func (a *AuthService) GenerateAccessToken(userID uuid.UUID, username, role string) (string, error) {
	return a.jwtHandler.GenerateAccessToken(userID, username, role)
}

// LoginUser authenticates a user and returns an access and a refresh token.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (accessToken, refreshToken string, err error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		a.logAuthEvent(ctx, "user_login_failed", nil, nil, ipAddress, userAgent, false, "user not found")
		return "", "", ErrInvalidCredentials
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, nil, ipAddress, userAgent, false, "account locked")
		return "", "", fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		if err := a.store.IncrementFailedLoginAttempts(ctx, user.ID, a.maxFailed, a.lockFor); err != nil {
			a.logger.Warn("Failed to count failed login", zap.Error(err))
		}
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, nil, ipAddress, userAgent, false, "invalid password")
		return "", "", ErrInvalidCredentials
	}

	if err := a.store.ResetFailedLoginAttempts(ctx, user.ID); err != nil {
		a.logger.Warn("Failed to reset login attempts", zap.Error(err))
	}

	accessToken, refreshToken, err = a.issueTokens(ctx, user)
	if err != nil {
		return "", "", err
	}

	if err := a.store.UpdateLastLogin(ctx, user.ID); err != nil {
		a.logger.Warn("Failed to update last login", zap.Error(err))
	}
	a.logAuthEvent(ctx, "user_login_success", &user.ID, nil, ipAddress, userAgent, true, "")

	return accessToken, refreshToken, nil
}

func (a *AuthService) issueTokens(ctx context.Context, user *storage.User) (string, string, error) {
	accessToken, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	expiresAt := time.Now().Add(a.jwtHandler.RefreshTokenTTL())
	if err := a.store.StoreRefreshToken(ctx, user.ID, hashRefreshToken(refreshToken), expiresAt); err != nil {
		return "", "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// RefreshAccessToken rotates a refresh token: the old one is revoked and a
// new pair is issued.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	tokenHash := hashRefreshToken(refreshToken)

	userID, err := a.store.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := a.store.GetUserByID(ctx, *userID)
	if err != nil {
		return "", "", fmt.Errorf("user not found: %w", err)
	}

	if err := a.store.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return "", "", fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return a.issueTokens(ctx, user)
}

func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return a.store.RevokeRefreshToken(ctx, hashRefreshToken(refreshToken))
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      *uuid.UUID
	Username    string
	Role        string
	Permissions []Permission
}

// Authenticate accepts a JWT access token or a machine token.
func (a *AuthService) Authenticate(ctx context.Context, token, ipAddress, userAgent string) (*Principal, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		id := claims.UserID
		return &Principal{
			UserID:      &id,
			Username:    claims.Username,
			Role:        claims.Role,
			Permissions: RolePermissions(claims.Role),
		}, nil
	}

	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, ErrInvalidToken
	}

	machineToken, err := a.store.GetMachineTokenByHash(ctx, a.machineTokenGen.HashToken(token))
	if err != nil {
		a.logAuthEvent(ctx, "machine_token_failed", nil, nil, ipAddress, userAgent, false, "token not found")
		return nil, ErrInvalidToken
	}

	if err := a.store.UpdateMachineTokenLastUsed(ctx, machineToken.ID); err != nil {
		a.logger.Debug("Failed to update machine token usage", zap.Error(err))
	}
	a.logAuthEvent(ctx, "machine_token_success", nil, &machineToken.ID, ipAddress, userAgent, true, "")

	permissions := make([]Permission, len(machineToken.Permissions))
	for i, p := range machineToken.Permissions {
		permissions[i] = Permission(p)
	}

	return &Principal{Username: machineToken.Name, Permissions: permissions}, nil
}

// RolePermissions maps a user role to its permissions; roles are cumulative.
func RolePermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func ValidPermission(p string) bool {
	switch Permission(p) {
	case PermOperator, PermTechnician, PermAdmin:
		return true
	}
	return false
}

func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	if err := a.store.LogAuthEvent(ctx, eventType, userID, machineTokenID, ip, userAgent, success, reason); err != nil {
		a.logger.Debug("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}

// CreateMachineToken returns the plain token once; only its hash is kept.
func (a *AuthService) CreateMachineToken(ctx context.Context, name string, permissions []string, createdByUserID *uuid.UUID, metadata map[string]interface{}) (string, *storage.MachineToken, error) {
	for _, p := range permissions {
		if !ValidPermission(p) {
			return "", nil, fmt.Errorf("unknown permission %q", p)
		}
	}

	token, tokenHash, err := a.machineTokenGen.GenerateMachineToken()
	if err != nil {
		return "", nil, err
	}

	machineToken, err := a.store.CreateMachineToken(ctx, tokenHash, name, permissions, createdByUserID, metadata)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	a.logAuthEvent(ctx, "machine_token_created", createdByUserID, &machineToken.ID, "", "", true, "")
	return token, machineToken, nil
}

func (a *AuthService) ListMachineTokens(ctx context.Context) ([]*storage.MachineToken, error) {
	return a.store.ListMachineTokens(ctx)
}

func (a *AuthService) DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error {
	return a.store.DeleteMachineToken(ctx, tokenID)
}

func (a *AuthService) CreateUser(ctx context.Context, username, password, role string) (*storage.User, error) {
	passwordHash, err := a.passwordHasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return a.store.CreateUser(ctx, username, passwordHash, role)
}

func (a *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	return a.store.GetUserByID(ctx, userID)
}

// EnsureAdmin creates the admin user if no user of that name exists.
func (a *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := a.store.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if _, err := a.CreateUser(ctx, username, password, "admin"); err != nil {
		return err
	}
	a.logger.Info("Admin user created", zap.String("username", username))
	return nil
}
