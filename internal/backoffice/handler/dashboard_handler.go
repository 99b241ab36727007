package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	store *repository.Store
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(store *repository.Store) *DashboardHandler {
	return &DashboardHandler{store: store}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	sum, err := h.store.Summary(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	backlog := sum.FramesByState[domain.FrameRateSet]
	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":             time.Now().UTC(),
		"operator":              adminAddress(c),
		"summary":               sum,
		"unsettled_pool_text":   sum.UnsettledPool.Decimal().String(),
		"pending_referral_text": sum.PendingReferral.Decimal().String(),
		"settlement_backlog":    backlog,
		"backlog_indicator":     backlogIndicator(backlog),
	})
}

// backlogIndicator returns GREEN/YELLOW/RED based on how many frames have a
// closing rate but no settlement. A healthy keeper keeps this at zero.
func backlogIndicator(frames int) string {
	switch {
	case frames > 2:
		return "RED"
	case frames > 0:
		return "YELLOW"
	default:
		return "GREEN"
	}
}
