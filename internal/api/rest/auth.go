package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse answers login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type CreateMachineTokenRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Permissions []string               `json:"permissions"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// CreateMachineTokenResponse is the only response that carries the plain
// token.
type CreateMachineTokenResponse struct {
	Token       string                 `json:"token"`
	ID          uuid.UUID              `json:"id"`
	Name        string                 `json:"name"`
	Permissions []string               `json:"permissions"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) tokenResponse(access, refresh string) TokenResponse {
	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.authService.AccessTokenTTL().Seconds()),
	}
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	access, refresh, err := s.authService.LoginUser(c.Request.Context(),
		req.Username, req.Password, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.tokenResponse(access, refresh))
}

// POST /api/v1/auth/refresh
func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	access, refresh, err := s.authService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		// A token of a deleted user is as invalid as an unknown one.
		s.logger.Debug("Refresh rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("INVALID_TOKEN", "Invalid or expired refresh token", nil))
		return
	}
	c.JSON(http.StatusOK, s.tokenResponse(access, refresh))
}

// POST /api/v1/auth/logout
func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := s.authService.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("UNAUTHENTICATED", "Not authenticated", nil))
		return
	}

	response := gin.H{
		"username":    principal.Username,
		"role":        principal.Role,
		"permissions": principal.Permissions,
	}

	// Machine tokens have no user record.
	if principal.UserID != nil {
		user, err := s.authService.GetUserByID(c.Request.Context(), *principal.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		response["user"] = user
	}

	c.JSON(http.StatusOK, response)
}

// POST /api/v1/machine-tokens
func (s *Server) createMachineToken(c *gin.Context) {
	var req CreateMachineTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	if len(req.Permissions) == 0 {
		req.Permissions = []string{string(auth.PermOperator)}
	}
	for _, p := range req.Permissions {
		if !auth.ValidPermission(p) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("UNKNOWN_PERMISSION", "Unknown permission", p))
			return
		}
	}

	var createdBy *uuid.UUID
	if principal, ok := auth.PrincipalFrom(c); ok {
		createdBy = principal.UserID
	}

	token, record, err := s.authService.CreateMachineToken(c.Request.Context(),
		req.Name, req.Permissions, createdBy, req.Metadata)
	if err != nil {
		s.logger.Error("Failed to create machine token", zap.String("name", req.Name), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateMachineTokenResponse{
		Token:       token,
		ID:          record.ID,
		Name:        record.Name,
		Permissions: record.Permissions,
		Metadata:    record.Metadata,
	})
}

// GET /api/v1/machine-tokens
func (s *Server) listMachineTokens(c *gin.Context) {
	tokens, err := s.authService.ListMachineTokens(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "count": len(tokens)})
}

// DELETE /api/v1/machine-tokens/:id
func (s *Server) deleteMachineToken(c *gin.Context) {
	tokenID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("INVALID_REQUEST", "Invalid token ID", err.Error()))
		return
	}

	if err := s.authService.DeleteMachineToken(c.Request.Context(), tokenID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token deleted", "id": tokenID})
}
