package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/gin-gonic/gin"
)

// MarketHandler serves public read endpoints: rate, parameters, frames, lots
// and the transfer audit trail.
type MarketHandler struct {
	mkt   *market.Market
	store *repository.Store
}

// NewMarketHandler creates a MarketHandler. store may be nil, in which case
// transfer history endpoints answer 503.
func NewMarketHandler(mkt *market.Market, store *repository.Store) *MarketHandler {
	return &MarketHandler{mkt: mkt, store: store}
}

// GetRate godoc
// GET /api/rate
func (h *MarketHandler) GetRate(c *gin.Context) {
	r, err := h.mkt.CurrentRate(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_PRICE_UNAVAILABLE", "live rate unavailable")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"rate":       r,
		"rate_text":  r.Decimal().String(),
		"bucket":     h.mkt.Quantize(r),
		"next_frame": h.mkt.NextFrameKey(),
	})
}

// GetParams godoc
// GET /api/params
func (h *MarketHandler) GetParams(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.mkt.Params(c.Request.Context()))
}

// ListFrames godoc
// GET /api/frames?page=1&limit=20
// GET /api/frames?from=1700000000&to=1700600000
func (h *MarketHandler) ListFrames(c *gin.Context) {
	ctx := c.Request.Context()
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		lo, err1 := strconv.ParseInt(from, 10, 64)
		hi, err2 := strconv.ParseInt(to, 10, 64)
		if err1 != nil || err2 != nil || hi < lo {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "from and to must be unix timestamps with from <= to")
			return
		}
		frames := h.mkt.FramesBetween(ctx, lo, hi)
		respondList(c, frames, len(frames), 1, len(frames))
		return
	}

	page, limit := parsePagination(c)
	frames, total := h.mkt.Frames(ctx, (page-1)*limit, limit)
	respondList(c, frames, total, page, limit)
}

// GetFrame godoc
// GET /api/frames/:key
func (h *MarketHandler) GetFrame(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	f, err := h.mkt.Frame(c.Request.Context(), key)
	if err != nil {
		respondDomainError(c, err, "could not fetch frame")
		return
	}
	respondSuccess(c, http.StatusOK, f)
}

// ListLots godoc
// GET /api/frames/:key/lots?page=1&limit=20
func (h *MarketHandler) ListLots(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	lots, total, err := h.mkt.Lots(c.Request.Context(), key, (page-1)*limit, limit)
	if err != nil {
		respondDomainError(c, err, "could not list lots")
		return
	}
	respondList(c, lots, total, page, limit)
}

// GetLot godoc
// GET /api/frames/:key/lots/:bucket
func (h *MarketHandler) GetLot(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	bucket, err := parseQuote(c.Param("bucket"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BUCKET", "bucket must be a positive decimal")
		return
	}
	lot, err := h.mkt.Lot(c.Request.Context(), key, bucket)
	if err != nil {
		respondDomainError(c, err, "could not fetch lot")
		return
	}
	respondSuccess(c, http.StatusOK, lot)
}

// EstimateReward godoc
// GET /api/frames/:key/estimate
func (h *MarketHandler) EstimateReward(c *gin.Context) {
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	est, err := h.mkt.EstimateReward(c.Request.Context(), key)
	if err != nil {
		respondDomainError(c, err, "could not estimate reward")
		return
	}
	respondSuccess(c, http.StatusOK, est)
}

// GetTax godoc
// GET /api/tax?frame=1700000000&price=40
func (h *MarketHandler) GetTax(c *gin.Context) {
	key, err := strconv.ParseInt(c.Query("frame"), 10, 64)
	if err != nil || key <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_FRAME_KEY", "frame must be a positive unix timestamp")
		return
	}
	price, err := parseQuote(c.Query("price"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "price must be a positive decimal")
		return
	}
	tax, err := h.mkt.Tax(key, price)
	if err != nil {
		respondDomainError(c, err, "could not compute tax")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"frame_key": key,
		"price":     price,
		"tax":       tax,
		"tax_text":  tax.Decimal().String(),
	})
}

// GetFrameTransfers godoc
// GET /api/frames/:key/transfers
func (h *MarketHandler) GetFrameTransfers(c *gin.Context) {
	if h.store == nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_NO_JOURNAL", "transfer history is not persisted")
		return
	}
	key, ok := parseFrameKey(c)
	if !ok {
		return
	}
	transfers, err := h.store.TransfersByFrame(c.Request.Context(), key)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch transfers")
		return
	}
	respondList(c, transfers, len(transfers), 1, len(transfers))
}

// GetAccountTransfers godoc
// GET /api/accounts/:address/transfers?page=1&limit=20
func (h *MarketHandler) GetAccountTransfers(c *gin.Context) {
	if h.store == nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_NO_JOURNAL", "transfer history is not persisted")
		return
	}
	addr, ok := parseAddress(c.Param("address"))
	if !ok || addr == zeroAddress {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}
	page, limit := parsePagination(c)
	transfers, err := h.store.TransfersByAccount(c.Request.Context(), addr, limit, (page-1)*limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch transfers")
		return
	}
	respondList(c, transfers, len(transfers), page, limit)
}

// GetAccount godoc
// GET /api/accounts/:address
func (h *MarketHandler) GetAccount(c *gin.Context) {
	addr, ok := parseAddress(c.Param("address"))
	if !ok || addr == zeroAddress {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}
	acct, err := h.mkt.Account(c.Request.Context(), addr)
	if err != nil {
		respondDomainError(c, err, "could not fetch account")
		return
	}
	respondSuccess(c, http.StatusOK, acct)
}
