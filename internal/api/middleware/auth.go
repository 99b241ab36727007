package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxAddress = "address"
	CtxRole    = "role"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the wallet address (common.Address) and role (string)
// in the gin context.
func JWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized)
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			code := "ERR_TOKEN_INVALID"
			if errors.Is(err, domain.ErrTokenExpired) {
				code = "ERR_TOKEN_EXPIRED"
			}
			abort(c, http.StatusUnauthorized, code, err)
			return
		}

		addr, err := claims.Address()
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxAddress, addr)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// OwnerMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// OwnerMiddleware allows only the market owner through. Must be placed after
// JWTMiddleware in the chain. The engine still checks the caller itself.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != service.RoleOwner {
			abort(c, http.StatusForbidden, "ERR_NOT_OWNER", domain.ErrNotOwner)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract caller identity from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetAddress retrieves the authenticated wallet address from the gin context.
// Returns the zero address if the middleware was not applied.
func GetAddress(c *gin.Context) common.Address {
	v, exists := c.Get(CtxAddress)
	if !exists {
		return common.Address{}
	}
	addr, _ := v.(common.Address)
	return addr
}

// GetRole retrieves the authenticated caller's role string from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
