package handler

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// errorCodes maps individual sentinels to stable client-facing codes.
var errorCodes = map[error]string{
	domain.ErrFrameNotFound:         "ERR_FRAME_NOT_FOUND",
	domain.ErrLotNotFound:           "ERR_LOT_NOT_FOUND",
	domain.ErrAccountNotFound:       "ERR_ACCOUNT_NOT_FOUND",
	domain.ErrNothingToSettle:       "ERR_NOTHING_TO_SETTLE",
	domain.ErrChallengeNotFound:     "ERR_CHALLENGE_NOT_FOUND",
	domain.ErrFrameClosed:           "ERR_FRAME_CLOSED",
	domain.ErrRateWindowNotOpen:     "ERR_RATE_WINDOW_NOT_OPEN",
	domain.ErrRateAlreadySet:        "ERR_RATE_ALREADY_SET",
	domain.ErrRateNotSet:            "ERR_RATE_NOT_SET",
	domain.ErrAlreadySettled:        "ERR_ALREADY_SETTLED",
	domain.ErrNoSettlementYet:       "ERR_NO_SETTLEMENT_YET",
	domain.ErrReentrantCall:         "ERR_REENTRANT_CALL",
	domain.ErrZeroTax:               "ERR_ZERO_TAX",
	domain.ErrInvalidPrice:          "ERR_INVALID_PRICE",
	domain.ErrInvalidBucket:         "ERR_INVALID_BUCKET",
	domain.ErrInvalidFrameKey:       "ERR_INVALID_FRAME_KEY",
	domain.ErrSelfReferral:          "ERR_SELF_REFERRAL",
	domain.ErrUnknownReferrer:       "ERR_UNKNOWN_REFERRER",
	domain.ErrNothingToClaim:        "ERR_NOTHING_TO_CLAIM",
	domain.ErrInvalidRate:           "ERR_INVALID_RATE",
	domain.ErrInvalidAmount:         "ERR_INVALID_AMOUNT",
	domain.ErrWithdrawExceedsFree:   "ERR_WITHDRAW_EXCEEDS_FREE",
	domain.ErrInsufficientAllowance: "ERR_INSUFFICIENT_ALLOWANCE",
	domain.ErrInsufficientBalance:   "ERR_INSUFFICIENT_BALANCE",
	domain.ErrNotOwner:              "ERR_NOT_OWNER",
	domain.ErrUnauthorized:          "ERR_UNAUTHORIZED",
	domain.ErrTokenExpired:          "ERR_TOKEN_EXPIRED",
	domain.ErrTokenInvalid:          "ERR_TOKEN_INVALID",
	domain.ErrInvalidSignature:      "ERR_INVALID_SIGNATURE",
}

func errorCode(err error, fallback string) string {
	for target, code := range errorCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return fallback
}

// respondDomainError translates an engine or service error into the standard
// envelope. Unknown errors become 500 with msg.
func respondDomainError(c *gin.Context, err error, msg string) {
	switch {
	case domain.IsAuthorization(err):
		respondError(c, http.StatusForbidden, errorCode(err, "ERR_FORBIDDEN"), err.Error())
	case domain.IsAuthError(err):
		respondError(c, http.StatusUnauthorized, errorCode(err, "ERR_UNAUTHORIZED"), err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, errorCode(err, "ERR_NOT_FOUND"), err.Error())
	case domain.IsStateError(err):
		respondError(c, http.StatusConflict, errorCode(err, "ERR_STATE"), err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, errorCode(err, "ERR_VALIDATION"), err.Error())
	case domain.IsInsufficientAuthorization(err):
		respondError(c, http.StatusPaymentRequired, errorCode(err, "ERR_INSUFFICIENT_FUNDS"), err.Error())
	case domain.IsArithmetic(err):
		respondError(c, http.StatusUnprocessableEntity, "ERR_ARITHMETIC", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", msg)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

var zeroAddress common.Address

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}

// parseFrameKey reads the :key path parameter (Unix seconds).
func parseFrameKey(c *gin.Context) (int64, bool) {
	key, err := strconv.ParseInt(c.Param("key"), 10, 64)
	if err != nil || key <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_FRAME_KEY", "frame key must be a positive unix timestamp")
		return 0, false
	}
	return key, true
}

// parseQuote parses a positive decimal quote-unit string such as "3050.5".
func parseQuote(s string) (fixedpoint.Q96, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixedpoint.Q96{}, err
	}
	if !d.IsPositive() {
		return fixedpoint.Q96{}, errors.New("must be positive")
	}
	return fixedpoint.FromDecimal(d)
}

// parseAddress parses an optional hex address; the empty string is the zero
// address.
func parseAddress(s string) (common.Address, bool) {
	if s == "" {
		return common.Address{}, true
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseUnits converts a decimal token amount into raw units. The amount must
// be positive and representable at the given precision.
func parseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	raw := d.Shift(int32(decimals))
	if !raw.IsPositive() || !raw.Equal(raw.Truncate(0)) {
		return nil, domain.ErrInvalidAmount
	}
	return raw.BigInt(), nil
}
