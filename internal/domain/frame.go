package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// FrameState is the lifecycle state of a frame. States only advance.
type FrameState uint8

const (
	FrameOpen         FrameState = iota // lots may be traded
	FrameAwaitingRate                   // trading closed, closing rate not fixed
	FrameRateSet                        // closing rate fixed, ready to settle
	FrameSettled                        // rewards distributed; terminal
)

var frameStateNames = [...]string{"open", "awaiting_rate", "rate_set", "settled"}

func (s FrameState) String() string {
	if int(s) < len(frameStateNames) {
		return frameStateNames[s]
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

// MarshalText encodes the state by name.
func (s FrameState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *FrameState) UnmarshalText(b []byte) error {
	for i, name := range frameStateNames {
		if name == string(b) {
			*s = FrameState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown frame state %q", b)
}

// Frame is one settlement period, keyed by its period-aligned start (Unix
// seconds). Lots of a frame trade while now < Key; the realised rate over
// [Key, Key+period) decides the winning bucket.
type Frame struct {
	Key                int64          `json:"key"                  db:"frame_key"`
	State              FrameState     `json:"state"                db:"state"`
	ClosingRate        fixedpoint.Q96 `json:"closing_rate"         db:"closing_rate"`
	RateSetAt          int64          `json:"rate_set_at"          db:"rate_set_at"`
	RateOverridden     bool           `json:"rate_overridden"      db:"rate_overridden"`
	RewardPool         fixedpoint.Q96 `json:"reward_pool"          db:"reward_pool"`
	ReferralFeeAccrued fixedpoint.Q96 `json:"referral_fee_accrued" db:"referral_fee_accrued"`
	ClaimedBy          common.Address `json:"claimed_by"           db:"claimed_by"`
	WinningBucket      fixedpoint.Q96 `json:"winning_bucket"       db:"winning_bucket"`
	Payout             fixedpoint.Q96 `json:"payout"               db:"payout"`
	ProtocolFee        fixedpoint.Q96 `json:"protocol_fee"         db:"protocol_fee"`
	Rollover           fixedpoint.Q96 `json:"rollover"             db:"rollover"`
	SettledAt          int64          `json:"settled_at"           db:"settled_at"`
}

// HasClosingRate reports whether the closing rate has been fixed.
func (f *Frame) HasClosingRate() bool {
	return f.State >= FrameRateSet
}

// IsSettled reports whether rewards have been distributed.
func (f *Frame) IsSettled() bool {
	return f.State == FrameSettled
}

// IsTradable reports whether lots of the frame may change hands.
func (f *Frame) IsTradable() bool {
	return f.State == FrameOpen
}

// Settlement is the result of settling a frame.
type Settlement struct {
	FrameKey      int64          `json:"frame_key"`
	ClosingRate   fixedpoint.Q96 `json:"closing_rate"`
	WinningBucket fixedpoint.Q96 `json:"winning_bucket"`
	Winner        common.Address `json:"winner"`
	FellBack      bool           `json:"fell_back"` // no owned lot matched; owner paid
	RewardPool    fixedpoint.Q96 `json:"reward_pool"`
	Payout        fixedpoint.Q96 `json:"payout"`
	ProtocolFee   fixedpoint.Q96 `json:"protocol_fee"`
	Rollover      fixedpoint.Q96 `json:"rollover"`
	RolloverFrame int64          `json:"rollover_frame"`
}

// RewardEstimate projects a settlement from the current pool without side
// effects.
type RewardEstimate struct {
	FrameKey      int64          `json:"frame_key"`
	Rate          fixedpoint.Q96 `json:"rate"`
	WinningBucket fixedpoint.Q96 `json:"winning_bucket"`
	Winner        common.Address `json:"winner"`
	RewardPool    fixedpoint.Q96 `json:"reward_pool"`
	Payout        fixedpoint.Q96 `json:"payout"`
	ProtocolFee   fixedpoint.Q96 `json:"protocol_fee"`
	Rollover      fixedpoint.Q96 `json:"rollover"`
}
