package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/gin-gonic/gin"
)

// FinanceHandler serves /admin/finance endpoints.
type FinanceHandler struct {
	store *repository.Store
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(store *repository.Store) *FinanceHandler {
	return &FinanceHandler{store: store}
}

// Report godoc
// GET /admin/finance/report?from=2024-01-01&to=2024-01-31
func (h *FinanceHandler) Report(c *gin.Context) {
	fromStr := c.Query("from")
	toStr := c.Query("to")

	var from, to time.Time
	var err error
	if fromStr != "" {
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "from must be YYYY-MM-DD")
			return
		}
	} else {
		from = time.Now().UTC().AddDate(0, -1, 0).Truncate(24 * time.Hour) // default: last 30 days
	}
	if toStr != "" {
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "to must be YYYY-MM-DD")
			return
		}
		to = to.Add(24 * time.Hour) // inclusive
	} else {
		to = time.Now().UTC()
	}
	if !to.After(from) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "to must not be before from")
		return
	}

	totals, err := h.store.TransferTotals(c.Request.Context(), from.Unix(), to.Unix())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"from":   from,
		"to":     to,
		"totals": totals,
	})
}

// Transactions godoc
// GET /admin/finance/transactions?kind=payout&page=1&limit=50
func (h *FinanceHandler) Transactions(c *gin.Context) {
	kind := domain.TransferKind(c.Query("kind"))
	if kind != "" && !validKind(kind) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_KIND", "unknown transfer kind")
		return
	}
	page, limit := adminPagination(c)
	offset := (page - 1) * limit
	txns, total, err := h.store.Transfers(c.Request.Context(), kind, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, txns, total, page, limit)
}

func validKind(k domain.TransferKind) bool {
	switch k {
	case domain.TransferTradeCharge, domain.TransferResaleRefund, domain.TransferPayout,
		domain.TransferProtocolFee, domain.TransferReferralClaim, domain.TransferWithdraw:
		return true
	}
	return false
}
