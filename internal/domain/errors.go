package domain

import (
	"errors"

	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Authorization errors
var (
	// ErrNotOwner is returned when a non-owner invokes an owner-only operation.
	ErrNotOwner = errors.New("caller is not the market owner")

	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired is returned when an access token has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its
	// signature does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrInvalidSignature is returned when a login signature does not recover
	// to the claimed address.
	ErrInvalidSignature = errors.New("signature does not match address")

	// ErrChallengeNotFound is returned when a login references an unknown or
	// expired challenge.
	ErrChallengeNotFound = errors.New("login challenge not found or expired")
)

// Lookup errors
var (
	// ErrFrameNotFound is returned when no frame exists for the key.
	ErrFrameNotFound = errors.New("frame not found")

	// ErrLotNotFound is returned when no trade has ever occurred on the lot.
	ErrLotNotFound = errors.New("lot not found")

	// ErrAccountNotFound is returned when the address has never traded.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNothingToSettle is returned by an unkeyed settle when no frame has a
	// closing rate waiting.
	ErrNothingToSettle = errors.New("no frame is ready for settlement")
)

// Lifecycle state errors
var (
	// ErrFrameClosed is returned when trading a frame whose trading window has
	// ended.
	ErrFrameClosed = errors.New("frame is closed for trading")

	// ErrRateWindowNotOpen is returned when setRate is called before the
	// frame's settlement window opens.
	ErrRateWindowNotOpen = errors.New("closing rate cannot be set yet")

	// ErrRateAlreadySet is returned when the closing rate is already fixed.
	ErrRateAlreadySet = errors.New("closing rate is already set")

	// ErrRateNotSet is returned when settling a frame without a closing rate.
	ErrRateNotSet = errors.New("closing rate is not set")

	// ErrAlreadySettled is returned when settling a frame twice.
	ErrAlreadySettled = errors.New("frame is already settled")

	// ErrNoSettlementYet is returned when claiming referral rewards before any
	// frame has been settled.
	ErrNoSettlementYet = errors.New("no frame has been settled yet")

	// ErrReentrantCall is returned when a mutating operation is invoked from
	// inside another operation's asset transfer.
	ErrReentrantCall = errors.New("reentrant call rejected")
)

// Validation errors
var (
	// ErrZeroTax is returned when the computed tax rounds to zero.
	ErrZeroTax = errors.New("computed tax must be positive")

	// ErrInvalidPrice is returned for a zero or malformed acquisition price.
	ErrInvalidPrice = errors.New("acquisition price must be positive")

	// ErrInvalidBucket is returned when the bucket is not a multiple of the
	// price step.
	ErrInvalidBucket = errors.New("bucket is not aligned to the price step")

	// ErrInvalidFrameKey is returned when a frame key is not period-aligned.
	ErrInvalidFrameKey = errors.New("frame key is not aligned to the period")

	// ErrSelfReferral is returned when a payer names itself as referrer.
	ErrSelfReferral = errors.New("account cannot refer itself")

	// ErrUnknownReferrer is returned when the referrer has never traded.
	ErrUnknownReferrer = errors.New("referrer has no account")

	// ErrNothingToClaim is returned when the pending referral reward is zero.
	ErrNothingToClaim = errors.New("no pending referral reward")

	// ErrInvalidRate is returned for an out-of-range admin rate.
	ErrInvalidRate = errors.New("rate is out of range")

	// ErrInvalidAmount is returned for a zero or negative transfer amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrWithdrawExceedsFree is returned when a withdrawal would touch funds
	// reserved for pools or pending referral rewards.
	ErrWithdrawExceedsFree = errors.New("withdrawal exceeds unreserved balance")
)

// Asset authorization errors
var (
	// ErrInsufficientAllowance is returned when the payer has not approved the
	// engine for the full charge.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInsufficientBalance is returned when an account cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrFrameNotFound,
	ErrLotNotFound,
	ErrAccountNotFound,
	ErrNothingToSettle,
	ErrChallengeNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when you need to translate domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	return isAny(err, notFoundErrors)
}

// IsStateError returns true for operations attempted outside the required
// frame lifecycle state.
func IsStateError(err error) bool {
	return isAny(err, []error{
		ErrFrameClosed,
		ErrRateWindowNotOpen,
		ErrRateAlreadySet,
		ErrRateNotSet,
		ErrAlreadySettled,
		ErrNoSettlementYet,
		ErrReentrantCall,
	})
}

// IsValidation returns true for malformed or economically invalid inputs.
func IsValidation(err error) bool {
	return isAny(err, []error{
		ErrZeroTax,
		ErrInvalidPrice,
		ErrInvalidBucket,
		ErrInvalidFrameKey,
		ErrSelfReferral,
		ErrUnknownReferrer,
		ErrNothingToClaim,
		ErrInvalidRate,
		ErrInvalidAmount,
		ErrWithdrawExceedsFree,
	})
}

// IsInsufficientAuthorization returns true when the payer has not approved or
// does not hold enough value for the required transfer.
func IsInsufficientAuthorization(err error) bool {
	return isAny(err, []error{ErrInsufficientAllowance, ErrInsufficientBalance})
}

// IsAuthorization returns true when a non-owner invoked an owner-only
// operation.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrNotOwner)
}

// IsAuthError returns true for authentication errors (missing, expired or
// forged credentials).
func IsAuthError(err error) bool {
	return isAny(err, []error{
		ErrUnauthorized,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidSignature,
	})
}

// IsArithmetic returns true for fixed-point failures (division by zero,
// overflow, underflow).
func IsArithmetic(err error) bool {
	return isAny(err, []error{
		fixedpoint.ErrDivisionByZero,
		fixedpoint.ErrOverflow,
		fixedpoint.ErrUnderflow,
		fixedpoint.ErrNegative,
	})
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
