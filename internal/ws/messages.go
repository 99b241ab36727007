// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeRateUpdate    MsgType = "rate_update"
	MsgTypeLotTraded     MsgType = "lot_traded"
	MsgTypeLotDisplaced  MsgType = "lot_displaced"
	MsgTypeRateSet       MsgType = "rate_set"
	MsgTypeFrameSettled  MsgType = "frame_settled"
	MsgTypeParamsChanged MsgType = "params_changed"
	MsgTypeError         MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// RateUpdateMessage: pushed every broadcast interval to all clients.
// ──────────────────────────────────────────────────────────────────────────────

// RateUpdateMessage carries the live rate, its bucket and the countdown to the
// close of the earliest tradable frame.
type RateUpdateMessage struct {
	Type            MsgType        `json:"type"`
	Rate            fixedpoint.Q96 `json:"rate"`
	RateText        string         `json:"rate_text"`
	Bucket          fixedpoint.Q96 `json:"bucket"`
	NextFrame       int64          `json:"next_frame"`
	TimeLeftSeconds int64          `json:"time_left_seconds"`
	Timestamp       time.Time      `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// LotTradedMessage: broadcast after a trade commits.
// ──────────────────────────────────────────────────────────────────────────────

// LotTradedMessage announces a lot's new owner and self-assessed price.
type LotTradedMessage struct {
	Type             MsgType        `json:"type"`
	FrameKey         int64          `json:"frame_key"`
	Bucket           fixedpoint.Q96 `json:"bucket"`
	Owner            common.Address `json:"owner"`
	PreviousOwner    common.Address `json:"previous_owner"`
	AcquisitionPrice fixedpoint.Q96 `json:"acquisition_price"`
	Tax              fixedpoint.Q96 `json:"tax"`
	StateIndex       int            `json:"state_index"`
	Timestamp        time.Time      `json:"timestamp"`
}

// LotDisplacedMessage is sent only to the previous owner of a resold lot.
type LotDisplacedMessage struct {
	Type      MsgType        `json:"type"`
	FrameKey  int64          `json:"frame_key"`
	Bucket    fixedpoint.Q96 `json:"bucket"`
	NewOwner  common.Address `json:"new_owner"`
	Refunded  string         `json:"refunded"` // raw asset units
	Timestamp time.Time      `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// RateSetMessage: broadcast when a frame's closing rate is fixed.
// ──────────────────────────────────────────────────────────────────────────────

// RateSetMessage announces a frame's closing rate ahead of settlement.
type RateSetMessage struct {
	Type        MsgType        `json:"type"`
	FrameKey    int64          `json:"frame_key"`
	ClosingRate fixedpoint.Q96 `json:"closing_rate"`
	RateText    string         `json:"rate_text"`
	Overridden  bool           `json:"overridden"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// FrameSettledMessage: broadcast when a frame's pool is distributed.
// ──────────────────────────────────────────────────────────────────────────────

// FrameSettledMessage carries the settlement split.
type FrameSettledMessage struct {
	Type       MsgType           `json:"type"`
	Settlement domain.Settlement `json:"settlement"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ParamsChangedMessage is broadcast after an owner adjusts a rate.
type ParamsChangedMessage struct {
	Type      MsgType       `json:"type"`
	Params    domain.Params `json:"params"`
	Timestamp time.Time     `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
