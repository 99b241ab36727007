package handler

import (
	"net/http"

	"github.com/evetabi/lotmarket/internal/api/middleware"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminHandler serves owner-only parameter and treasury endpoints.
type AdminHandler struct {
	mkt *market.Market
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(mkt *market.Market) *AdminHandler {
	return &AdminHandler{mkt: mkt}
}

// bindRate reads {"rate":"12.5"} where rate is a percentage.
func bindRate(c *gin.Context) (fixedpoint.Q96, bool) {
	var body struct {
		Rate string `json:"rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return fixedpoint.Q96{}, false
	}
	pct, err := decimal.NewFromString(body.Rate)
	if err != nil || pct.IsNegative() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_RATE", "rate must be a non-negative percentage")
		return fixedpoint.Q96{}, false
	}
	r, err := fixedpoint.Percent(pct)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_RATE", err.Error())
		return fixedpoint.Q96{}, false
	}
	return r, true
}

// AdjustTaxRate godoc
// POST /api/admin/tax-rate [JWT owner]
// Body: {"rate":"25"}
func (h *AdminHandler) AdjustTaxRate(c *gin.Context) {
	r, ok := bindRate(c)
	if !ok {
		return
	}
	if err := h.mkt.AdjustTaxRate(c.Request.Context(), middleware.GetAddress(c), r); err != nil {
		respondDomainError(c, err, "could not adjust tax rate")
		return
	}
	respondSuccess(c, http.StatusOK, h.mkt.Params(c.Request.Context()))
}

// AdjustProtocolFee godoc
// POST /api/admin/protocol-fee [JWT owner]
// Body: {"rate":"10"}
func (h *AdminHandler) AdjustProtocolFee(c *gin.Context) {
	r, ok := bindRate(c)
	if !ok {
		return
	}
	if err := h.mkt.AdjustProtocolFee(c.Request.Context(), middleware.GetAddress(c), r); err != nil {
		respondDomainError(c, err, "could not adjust protocol fee")
		return
	}
	respondSuccess(c, http.StatusOK, h.mkt.Params(c.Request.Context()))
}

// Withdraw godoc
// POST /api/admin/withdraw [JWT owner]
// Body: {"amount":"12.5"} in whole asset units.
func (h *AdminHandler) Withdraw(c *gin.Context) {
	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	ctx := c.Request.Context()
	amount, err := parseUnits(body.Amount, h.mkt.Params(ctx).AssetDecimals)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal within asset precision")
		return
	}
	if err := h.mkt.Withdraw(ctx, middleware.GetAddress(c), amount); err != nil {
		respondDomainError(c, err, "could not withdraw")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"amount": amount.String()})
}

// FreeBalance godoc
// GET /api/admin/balance [JWT owner]
func (h *AdminHandler) FreeBalance(c *gin.Context) {
	free, err := h.mkt.FreeBalance(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not read engine balance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"free": free.String()})
}

// OverrideRate godoc
// POST /api/admin/frames/:key/rate [JWT owner]
// Body: {"rate":"3050.25"} in quote units.
func (h *AdminHandler) OverrideRate(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	var body struct {
		Rate string `json:"rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	r, err := parseQuote(body.Rate)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_RATE", "rate must be a positive decimal")
		return
	}
	f, err := h.mkt.OverrideRate(c.Request.Context(), middleware.GetAddress(c), key, r)
	if err != nil {
		respondDomainError(c, err, "could not override closing rate")
		return
	}
	respondSuccess(c, http.StatusOK, f)
}
