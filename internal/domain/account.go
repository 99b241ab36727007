package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Account
// ──────────────────────────────────────────────────────────────────────────────

// Account is created on an address's first trade. ReferredBy is set at most
// once and never to the account itself.
type Account struct {
	Address               common.Address `json:"address"                 db:"address"`
	ReferredBy            common.Address `json:"referred_by"             db:"referred_by"`
	PendingReferralReward fixedpoint.Q96 `json:"pending_referral_reward" db:"pending_referral_reward"`
	CreatedAt             int64          `json:"created_at"              db:"created_at"`
}

// HasReferrer reports whether a referrer has been assigned.
func (a *Account) HasReferrer() bool {
	return a.ReferredBy != (common.Address{})
}

// ──────────────────────────────────────────────────────────────────────────────
// Transfer: audit record of every asset movement
// ──────────────────────────────────────────────────────────────────────────────

// TransferKind enumerates asset movements for auditing.
type TransferKind string

const (
	TransferTradeCharge   TransferKind = "trade_charge"   // payer → engine
	TransferResaleRefund  TransferKind = "resale_refund"  // engine → displaced owner
	TransferPayout        TransferKind = "payout"         // engine → frame winner
	TransferProtocolFee   TransferKind = "protocol_fee"   // engine → owner
	TransferReferralClaim TransferKind = "referral_claim" // engine → referrer
	TransferWithdraw      TransferKind = "withdraw"       // engine → owner
)

// Transfer is an immutable audit record of one asset movement. Amount is in
// raw asset units.
type Transfer struct {
	ID        uuid.UUID      `json:"id"`
	Kind      TransferKind   `json:"kind"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    *big.Int       `json:"amount"`
	FrameKey  int64          `json:"frame_key"`
	CreatedAt int64          `json:"created_at"`
}

// Inbound reports whether the engine pulls this transfer from a participant.
func (t *Transfer) Inbound() bool {
	return t.Kind == TransferTradeCharge
}
