package handler

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/api/middleware"
	"github.com/evetabi/lotmarket/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TokenHandler exposes the in-process asset ledger so wallets can fund and
// approve the engine outside production.
type TokenHandler struct {
	ledger *token.Ledger
	engine common.Address
	faucet *big.Int
}

// NewTokenHandler creates a TokenHandler. A non-positive faucetAmount
// disables the faucet.
func NewTokenHandler(ledger *token.Ledger, engine common.Address, faucetAmount decimal.Decimal) *TokenHandler {
	h := &TokenHandler{ledger: ledger, engine: engine}
	if faucetAmount.IsPositive() {
		h.faucet = faucetAmount.Shift(int32(ledger.Decimals())).BigInt()
	}
	return h
}

// Faucet godoc
// POST /api/token/faucet [JWT]
func (h *TokenHandler) Faucet(c *gin.Context) {
	if h.faucet == nil {
		respondError(c, http.StatusForbidden, "ERR_FAUCET_DISABLED", "faucet is disabled")
		return
	}
	addr := middleware.GetAddress(c)
	if err := h.ledger.Mint(addr, h.faucet); err != nil {
		respondDomainError(c, err, "could not mint")
		return
	}
	h.respondBalance(c, addr, http.StatusCreated)
}

// Approve godoc
// POST /api/token/approve [JWT]
// Body: {"amount":"100"} in whole asset units; "0" revokes.
func (h *TokenHandler) Approve(c *gin.Context) {
	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount := new(big.Int)
	if d, err := decimal.NewFromString(body.Amount); err != nil || d.IsNegative() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative decimal")
		return
	} else if !d.IsZero() {
		if amount, err = parseUnits(body.Amount, h.ledger.Decimals()); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount exceeds asset precision")
			return
		}
	}

	addr := middleware.GetAddress(c)
	if err := h.ledger.Approve(addr, h.engine, amount); err != nil {
		respondDomainError(c, err, "could not approve")
		return
	}
	h.respondBalance(c, addr, http.StatusOK)
}

// Balance godoc
// GET /api/token/balance [JWT]
func (h *TokenHandler) Balance(c *gin.Context) {
	h.respondBalance(c, middleware.GetAddress(c), http.StatusOK)
}

func (h *TokenHandler) respondBalance(c *gin.Context, addr common.Address, status int) {
	ctx := c.Request.Context()
	bal, err := h.ledger.BalanceOf(ctx, addr)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not read balance")
		return
	}
	allowance, err := h.ledger.Allowance(ctx, addr, h.engine)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not read allowance")
		return
	}
	respondSuccess(c, status, gin.H{
		"address":   addr,
		"balance":   bal.String(),
		"allowance": allowance.String(),
		"decimals":  h.ledger.Decimals(),
	})
}
