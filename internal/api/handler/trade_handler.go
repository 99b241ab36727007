package handler

import (
	"net/http"

	"github.com/evetabi/lotmarket/internal/api/middleware"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/gin-gonic/gin"
)

// TradeHandler serves the authenticated market operations: trading lots,
// fixing closing rates, settling frames and claiming referral rewards.
type TradeHandler struct {
	mkt *market.Market
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(mkt *market.Market) *TradeHandler {
	return &TradeHandler{mkt: mkt}
}

// tradeBody is the JSON form of a trade. Bucket and price are decimal quote
// units, frame_key is Unix seconds.
type tradeBody struct {
	FrameKey int64  `json:"frame_key" binding:"required"`
	Bucket   string `json:"bucket"    binding:"required"`
	Price    string `json:"price"     binding:"required"`
	Referrer string `json:"referrer"`
}

func bindTrade(c *gin.Context) (domain.TradeRequest, bool) {
	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return domain.TradeRequest{}, false
	}
	bucket, err := parseQuote(body.Bucket)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BUCKET", "bucket must be a positive decimal")
		return domain.TradeRequest{}, false
	}
	price, err := parseQuote(body.Price)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "price must be a positive decimal")
		return domain.TradeRequest{}, false
	}
	referrer, ok := parseAddress(body.Referrer)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid referrer address")
		return domain.TradeRequest{}, false
	}
	return domain.TradeRequest{
		FrameKey:         body.FrameKey,
		Bucket:           bucket,
		AcquisitionPrice: price,
		Referrer:         referrer,
	}, true
}

// Trade godoc
// POST /api/trades [JWT]
// Body: {"frame_key":1700006400,"bucket":"3000","price":"40","referrer":"0x…"}
func (h *TradeHandler) Trade(c *gin.Context) {
	req, ok := bindTrade(c)
	if !ok {
		return
	}
	receipt, err := h.mkt.Trade(c.Request.Context(), middleware.GetAddress(c), req)
	if err != nil {
		respondDomainError(c, err, "could not execute trade")
		return
	}
	respondSuccess(c, http.StatusCreated, receipt)
}

// EstimateTrade godoc
// POST /api/trades/estimate [JWT]
func (h *TradeHandler) EstimateTrade(c *gin.Context) {
	req, ok := bindTrade(c)
	if !ok {
		return
	}
	receipt, err := h.mkt.EstimateTrade(c.Request.Context(), middleware.GetAddress(c), req)
	if err != nil {
		respondDomainError(c, err, "could not estimate trade")
		return
	}
	respondSuccess(c, http.StatusOK, receipt)
}

// SetRate godoc
// POST /api/frames/:key/rate [JWT]
func (h *TradeHandler) SetRate(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	f, err := h.mkt.SetRate(c.Request.Context(), middleware.GetAddress(c), key)
	if err != nil {
		respondDomainError(c, err, "could not set closing rate")
		return
	}
	respondSuccess(c, http.StatusOK, f)
}

// Settle godoc
// POST /api/settlements [JWT]
// Body: {"frame_key":1700006400} or {} to settle the oldest ready frame.
func (h *TradeHandler) Settle(c *gin.Context) {
	var body struct {
		FrameKey *int64 `json:"frame_key"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
			return
		}
	}

	ctx, caller := c.Request.Context(), middleware.GetAddress(c)
	var (
		s   domain.Settlement
		err error
	)
	if body.FrameKey != nil {
		s, err = h.mkt.Settle(ctx, caller, *body.FrameKey)
	} else {
		s, err = h.mkt.SettleNext(ctx, caller)
	}
	if err != nil {
		respondDomainError(c, err, "could not settle frame")
		return
	}
	respondSuccess(c, http.StatusOK, s)
}

// ClaimReferral godoc
// POST /api/referrals/claim [JWT]
func (h *TradeHandler) ClaimReferral(c *gin.Context) {
	paid, err := h.mkt.ClaimReferralRewards(c.Request.Context(), middleware.GetAddress(c))
	if err != nil {
		respondDomainError(c, err, "could not claim referral rewards")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"amount": paid.String()})
}

// PendingReferral godoc
// GET /api/referrals/pending [JWT]
func (h *TradeHandler) PendingReferral(c *gin.Context) {
	pending := h.mkt.PendingReferralRewards(c.Request.Context(), middleware.GetAddress(c))
	respondSuccess(c, http.StatusOK, gin.H{
		"pending":      pending,
		"pending_text": pending.Decimal().String(),
	})
}
