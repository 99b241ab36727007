package api

import (
	"net/http"

	"github.com/evetabi/lotmarket/internal/api/handler"
	"github.com/evetabi/lotmarket/internal/api/middleware"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/evetabi/lotmarket/internal/token"
	"github.com/evetabi/lotmarket/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter. Store, Ledger and Hub
// are optional.
type RouterDeps struct {
	AuthSvc *service.AuthService
	Market  *market.Market
	Store   *repository.Store
	Ledger  *token.Ledger
	Hub     *ws.Hub
	Cfg     *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(deps.AuthSvc)
	marketH := handler.NewMarketHandler(deps.Market, deps.Store)
	tradeH := handler.NewTradeHandler(deps.Market)
	adminH := handler.NewAdminHandler(deps.Market)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10)  // per IP for sign-in
	tradeRL := middleware.RateLimitMiddleware(30) // per wallet for mutations

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/challenge", authH.Challenge)
			auth.POST("/login", authH.Login)
		}

		// ── Market reads (public) ────────────────────────────────────────────
		api.GET("/rate", marketH.GetRate)
		api.GET("/params", marketH.GetParams)
		api.GET("/tax", marketH.GetTax)

		frames := api.Group("/frames")
		{
			frames.GET("", marketH.ListFrames)
			frames.GET("/:key", marketH.GetFrame)
			frames.GET("/:key/lots", marketH.ListLots)
			frames.GET("/:key/lots/:bucket", marketH.GetLot)
			frames.GET("/:key/estimate", marketH.EstimateReward)
			frames.GET("/:key/transfers", marketH.GetFrameTransfers)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("/:address", marketH.GetAccount)
			accounts.GET("/:address/transfers", marketH.GetAccountTransfers)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW, tradeRL)
		{
			authed.GET("/me", authH.Me)

			authed.POST("/trades", tradeH.Trade)
			authed.POST("/trades/estimate", tradeH.EstimateTrade)
			authed.POST("/frames/:key/rate", tradeH.SetRate)
			authed.POST("/settlements", tradeH.Settle)

			referrals := authed.Group("/referrals")
			{
				referrals.POST("/claim", tradeH.ClaimReferral)
				referrals.GET("/pending", tradeH.PendingReferral)
			}

			// ── Owner ────────────────────────────────────────────────────────
			admin := authed.Group("/admin")
			admin.Use(middleware.OwnerMiddleware())
			{
				admin.POST("/tax-rate", adminH.AdjustTaxRate)
				admin.POST("/protocol-fee", adminH.AdjustProtocolFee)
				admin.POST("/withdraw", adminH.Withdraw)
				admin.GET("/balance", adminH.FreeBalance)
				admin.POST("/frames/:key/rate", adminH.OverrideRate)
			}

			// ── Development asset ledger ─────────────────────────────────────
			if deps.Ledger != nil && !deps.Cfg.IsProd() {
				tokenH := handler.NewTokenHandler(deps.Ledger, deps.Market.Engine(), deps.Cfg.Token.FaucetAmount)
				tok := authed.Group("/token")
				{
					tok.POST("/faucet", tokenH.Faucet)
					tok.POST("/approve", tokenH.Approve)
					tok.GET("/balance", tokenH.Balance)
				}
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets CORS headers. Outside
// production all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
