package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	ctxPrincipal   = "principal"
	ctxPermissions = "permissions"
)

// AuthMiddleware requires a bearer token (JWT or machine token).
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing or malformed authorization header", nil))
			return
		}

		principal, err := a.Authenticate(c.Request.Context(), token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(ctxPrincipal, principal)
		c.Set(ctxPermissions, principal.Permissions)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// RequirePermission aborts with 403 unless the caller holds required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}
		c.Next()
	}
}

func HasPermission(c *gin.Context, p Permission) bool {
	perms, ok := c.Get(ctxPermissions)
	if !ok {
		return false
	}
	list, _ := perms.([]Permission)
	return slices.Contains(list, p)
}

// PrincipalFrom returns the caller set by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
