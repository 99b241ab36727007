package handler

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/gin-gonic/gin"
)

// AccountAdminHandler serves /admin/accounts endpoints.
type AccountAdminHandler struct {
	store *repository.Store
}

// NewAccountAdminHandler creates an AccountAdminHandler.
func NewAccountAdminHandler(store *repository.Store) *AccountAdminHandler {
	return &AccountAdminHandler{store: store}
}

// List godoc
// GET /admin/accounts?page=1&limit=50
func (h *AccountAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	accts, total, err := h.store.Accounts(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, accts, total, page, limit)
}

// Detail godoc
// GET /admin/accounts/:address
func (h *AccountAdminHandler) Detail(c *gin.Context) {
	if !common.IsHexAddress(c.Param("address")) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}
	addr := common.HexToAddress(c.Param("address"))

	ctx := c.Request.Context()
	acct, referred, err := h.store.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	txns, _ := h.store.TransfersByAccount(ctx, addr, 50, 0)

	respondSuccess(c, http.StatusOK, gin.H{
		"account":        acct,
		"referred_count": referred,
		"transfers":      txns,
	})
}
