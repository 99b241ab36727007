package handler

import (
	"net/http"

	"github.com/evetabi/lotmarket/internal/api/middleware"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles wallet sign-in and the caller's own profile.
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Challenge godoc
// POST /api/auth/challenge
// Body: {"address":"0x…"}
func (h *AuthHandler) Challenge(c *gin.Context) {
	var body struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	addr, ok := parseAddress(body.Address)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}

	ch, err := h.authSvc.IssueChallenge(addr)
	if err != nil {
		respondDomainError(c, err, "could not issue challenge")
		return
	}
	respondSuccess(c, http.StatusCreated, ch)
}

// Login godoc
// POST /api/auth/login
// Body: {"address":"0x…","signature":"0x…"}
func (h *AuthHandler) Login(c *gin.Context) {
	var body struct {
		Address   string `json:"address"   binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	addr, ok := parseAddress(body.Address)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}

	resp, err := h.authSvc.Login(addr, body.Signature)
	if err != nil {
		respondDomainError(c, err, "login failed")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Me godoc
// GET /api/me [JWT]
func (h *AuthHandler) Me(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{
		"address": middleware.GetAddress(c),
		"role":    middleware.GetRole(c),
	})
}
