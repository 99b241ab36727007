// Package domain defines the core entities and errors of the self-assessed
// price-lot market: frames, lots and their ownership history, accounts,
// transfers and settlements.
package domain

import (
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ──────────────────────────────────────────────────────────────────────────────
// Params: owner-adjustable and derived market parameters
// ──────────────────────────────────────────────────────────────────────────────

// Params holds the mutable market parameters. Rates are Q96 fractions
// (0.25 == 25 %).
type Params struct {
	BaseTaxRate     fixedpoint.Q96 `json:"base_tax_rate"     db:"base_tax_rate"`
	ProtocolFeeRate fixedpoint.Q96 `json:"protocol_fee_rate" db:"protocol_fee_rate"`
	SettledCount    uint64         `json:"settled_count"     db:"settled_count"`
}

// ParamsView is the read model returned by Market.Params.
type ParamsView struct {
	Params
	ReferralSkimRate fixedpoint.Q96 `json:"referral_skim_rate"`
	PriceStep        fixedpoint.Q96 `json:"price_step"`
	PeriodSeconds    int64          `json:"period_seconds"`
	WindowSeconds    int64          `json:"settlement_window_seconds"`
	TaxAnchorSeconds int64          `json:"tax_anchor_seconds"`
	AssetDecimals    uint8          `json:"asset_decimals"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Changeset / Snapshot: the durable view of committed operations
// ──────────────────────────────────────────────────────────────────────────────

// Changeset describes everything a single committed operation changed. It is
// handed to the journal inside the operation's atomic unit.
type Changeset struct {
	Op        string           `json:"op"`
	At        int64            `json:"at"`
	Frames    []Frame          `json:"frames,omitempty"`
	LotStates []LotStateRecord `json:"lot_states,omitempty"`
	Accounts  []Account        `json:"accounts,omitempty"`
	Transfers []Transfer       `json:"transfers,omitempty"`
	Params    *Params          `json:"params,omitempty"`
}

// IsEmpty reports whether the changeset carries no changes.
func (c *Changeset) IsEmpty() bool {
	return len(c.Frames) == 0 && len(c.LotStates) == 0 && len(c.Accounts) == 0 &&
		len(c.Transfers) == 0 && c.Params == nil
}

// Snapshot is the full persisted state used to rebuild a market at startup.
type Snapshot struct {
	Params    *Params
	Frames    []Frame
	LotStates []LotStateRecord
	Accounts  []Account
}
