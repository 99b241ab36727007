package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// LotKey identifies a lot: one quantised price bucket inside one frame.
type LotKey struct {
	Frame  int64
	Bucket fixedpoint.Q96
}

// LotState is one immutable entry of a lot's ownership history.
//
// TaxCharged is the tax paid to create this entry. TaxRefunded records tax
// returned to the previous owner on displacement; the protocol never refunds
// tax, so it is always zero, but the column is kept for audit parity with the
// refund of the acquisition price.
type LotState struct {
	Timestamp        int64          `json:"timestamp"         db:"ts"`
	Owner            common.Address `json:"owner"             db:"owner"`
	AcquisitionPrice fixedpoint.Q96 `json:"acquisition_price" db:"acquisition_price"`
	TaxCharged       fixedpoint.Q96 `json:"tax_charged"       db:"tax_charged"`
	TaxRefunded      fixedpoint.Q96 `json:"tax_refunded"      db:"tax_refunded"`
}

// LotStateRecord is a LotState addressed by lot and history index.
type LotStateRecord struct {
	FrameKey int64          `json:"frame_key" db:"frame_key"`
	Bucket   fixedpoint.Q96 `json:"bucket"    db:"bucket"`
	Index    int            `json:"index"     db:"seq"`
	LotState
}

// Lot is the append-only ownership history of a bucket.
type Lot struct {
	FrameKey int64          `json:"frame_key"`
	Bucket   fixedpoint.Q96 `json:"bucket"`
	States   []LotState     `json:"states"`
}

// Key returns the lot's map key.
func (l *Lot) Key() LotKey {
	return LotKey{Frame: l.FrameKey, Bucket: l.Bucket}
}

// Current returns the latest state, if any trade has occurred.
func (l *Lot) Current() (LotState, bool) {
	if len(l.States) == 0 {
		return LotState{}, false
	}
	return l.States[len(l.States)-1], true
}

// Owner returns the current owner, or the zero address for an unowned lot.
func (l *Lot) Owner() common.Address {
	cur, ok := l.Current()
	if !ok {
		return common.Address{}
	}
	return cur.Owner
}

// LotView is the read model of a lot without its full history.
type LotView struct {
	FrameKey         int64          `json:"frame_key"`
	Bucket           fixedpoint.Q96 `json:"bucket"`
	Owner            common.Address `json:"owner"`
	AcquisitionPrice fixedpoint.Q96 `json:"acquisition_price"`
	StateCount       int            `json:"state_count"`
	UpdatedAt        int64          `json:"updated_at"`
}

// View builds the LotView of the lot.
func (l *Lot) View() LotView {
	v := LotView{FrameKey: l.FrameKey, Bucket: l.Bucket, StateCount: len(l.States)}
	if cur, ok := l.Current(); ok {
		v.Owner = cur.Owner
		v.AcquisitionPrice = cur.AcquisitionPrice
		v.UpdatedAt = cur.Timestamp
	}
	return v
}

// ──────────────────────────────────────────────────────────────────────────────
// Trade request / receipt
// ──────────────────────────────────────────────────────────────────────────────

// TradeRequest carries the inputs of a lot trade. Referrer is optional (zero
// address = none).
type TradeRequest struct {
	FrameKey         int64
	Bucket           fixedpoint.Q96
	AcquisitionPrice fixedpoint.Q96
	Referrer         common.Address
}

// TradeReceipt describes a committed (or, for estimates, projected) trade.
type TradeReceipt struct {
	FrameKey      int64          `json:"frame_key"`
	Bucket        fixedpoint.Q96 `json:"bucket"`
	StateIndex    int            `json:"state_index"`
	State         LotState       `json:"state"`
	PreviousOwner common.Address `json:"previous_owner"`
	Resale        bool           `json:"resale"`
	Tax           fixedpoint.Q96 `json:"tax"`
	Charged       *big.Int       `json:"charged"`  // raw units pulled from the payer
	Refunded      *big.Int       `json:"refunded"` // raw units paid to the displaced owner
	ReferralSkim  fixedpoint.Q96 `json:"referral_skim"`
	Referrer      common.Address `json:"referrer"`
}
