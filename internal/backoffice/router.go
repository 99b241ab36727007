// Package backoffice serves the operator console: read-only reports over the
// market journal, restricted by IP allowlist and the owner's access token.
package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/lotmarket/internal/backoffice/handler"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc *service.AuthService
	Store   *repository.Store
	Cfg     *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.Store)
	acctH := handler.NewAccountAdminHandler(deps.Store)
	financeH := handler.NewFinanceHandler(deps.Store)

	jwtMW := adminJWTMiddleware(deps.AuthSvc)

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Accounts
		a := admin.Group("/accounts")
		{
			a.GET("", acctH.List)
			a.GET("/:address", acctH.Detail)
		}

		// Finance
		fin := admin.Group("/finance")
		{
			fin.GET("/report", financeH.Report)
			fin.GET("/transactions", financeH.Transactions)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// An empty allowlist allows all.
func ipWhitelistMiddleware(allowedIPs []string) gin.HandlerFunc {
	if len(allowedIPs) == 0 {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowed[ip] = true
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT issued by the API server and requires
// the owner role.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "unauthorized", "code": "ERR_UNAUTHORIZED",
			})
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "invalid token", "code": "ERR_TOKEN_INVALID",
			})
			return
		}
		addr, err := claims.Address()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "invalid token subject", "code": "ERR_TOKEN_INVALID",
			})
			return
		}

		if claims.Role != service.RoleOwner {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "error": "insufficient permissions", "code": "ERR_NOT_OWNER",
			})
			return
		}

		c.Set("address", addr)
		c.Set("role", claims.Role)
		c.Next()
	}
}
