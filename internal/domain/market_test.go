package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ── Frame state ───────────────────────────────────────────────────────────────

func TestFrameState_Codes(t *testing.T) {
	cases := map[domain.FrameState]uint8{
		domain.FrameOpen:         0,
		domain.FrameAwaitingRate: 1,
		domain.FrameRateSet:      2,
		domain.FrameSettled:      3,
	}
	for s, want := range cases {
		if uint8(s) != want {
			t.Errorf("%s code = %d, want %d", s, uint8(s), want)
		}
	}
}

func TestFrameState_JSON(t *testing.T) {
	b, err := json.Marshal(domain.Frame{Key: 86400, State: domain.FrameRateSet})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out domain.Frame
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.State != domain.FrameRateSet {
		t.Errorf("State round trip = %s, want rate_set", out.State)
	}

	var s domain.FrameState
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) should fail")
	}
}

func TestFrame_Predicates(t *testing.T) {
	f := domain.Frame{}
	if !f.IsTradable() || f.HasClosingRate() || f.IsSettled() {
		t.Errorf("zero frame: tradable=%v rate=%v settled=%v", f.IsTradable(), f.HasClosingRate(), f.IsSettled())
	}
	f.State = domain.FrameSettled
	if f.IsTradable() || !f.HasClosingRate() || !f.IsSettled() {
		t.Errorf("settled frame: tradable=%v rate=%v settled=%v", f.IsTradable(), f.HasClosingRate(), f.IsSettled())
	}
}

// ── Lot history ───────────────────────────────────────────────────────────────

func TestLot_CurrentAndOwner(t *testing.T) {
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb2")

	lot := &domain.Lot{FrameKey: 86400, Bucket: fixedpoint.FromUint64(100)}
	if _, ok := lot.Current(); ok {
		t.Error("empty lot should have no current state")
	}
	if lot.Owner() != (common.Address{}) {
		t.Errorf("empty lot Owner() = %s, want zero", lot.Owner())
	}

	lot.States = append(lot.States,
		domain.LotState{Owner: alice, AcquisitionPrice: fixedpoint.FromUint64(25), Timestamp: 1},
		domain.LotState{Owner: bob, AcquisitionPrice: fixedpoint.FromUint64(20), Timestamp: 2},
	)
	if lot.Owner() != bob {
		t.Errorf("Owner() = %s, want %s", lot.Owner(), bob)
	}
	v := lot.View()
	if v.StateCount != 2 || !v.AcquisitionPrice.Eq(fixedpoint.FromUint64(20)) || v.UpdatedAt != 2 {
		t.Errorf("View() = %+v", v)
	}
	if lot.Key() != (domain.LotKey{Frame: 86400, Bucket: fixedpoint.FromUint64(100)}) {
		t.Errorf("Key() = %+v", lot.Key())
	}
}

func TestAccount_HasReferrer(t *testing.T) {
	a := domain.Account{Address: common.HexToAddress("0xa1")}
	if a.HasReferrer() {
		t.Error("new account should have no referrer")
	}
	a.ReferredBy = common.HexToAddress("0xb2")
	if !a.HasReferrer() {
		t.Error("HasReferrer() = false after assignment")
	}
}

func TestChangeset_IsEmpty(t *testing.T) {
	cs := &domain.Changeset{Op: "noop"}
	if !cs.IsEmpty() {
		t.Error("changeset without rows should be empty")
	}
	cs.Params = &domain.Params{}
	if cs.IsEmpty() {
		t.Error("changeset with params should not be empty")
	}
}

// ── Error taxonomy ────────────────────────────────────────────────────────────

func TestErrorTaxonomy(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("market.Trade: %w", err) }

	if !domain.IsAuthorization(wrap(domain.ErrNotOwner)) {
		t.Error("ErrNotOwner should be an authorization error")
	}
	if !domain.IsNotFound(wrap(domain.ErrFrameNotFound)) || !domain.IsNotFound(domain.ErrLotNotFound) {
		t.Error("frame/lot not found should satisfy IsNotFound")
	}
	if !domain.IsStateError(wrap(domain.ErrAlreadySettled)) || !domain.IsStateError(domain.ErrRateNotSet) {
		t.Error("settlement ordering errors should be state errors")
	}
	if !domain.IsValidation(wrap(domain.ErrZeroTax)) || !domain.IsValidation(domain.ErrSelfReferral) {
		t.Error("zero tax / self referral should be validation errors")
	}
	if !domain.IsInsufficientAuthorization(wrap(domain.ErrInsufficientAllowance)) {
		t.Error("ErrInsufficientAllowance should be an insufficient authorization error")
	}
	if !domain.IsArithmetic(wrap(fixedpoint.ErrDivisionByZero)) {
		t.Error("division by zero should be arithmetic")
	}

	// Claim before any settlement must be distinguishable from a zero balance.
	if domain.IsStateError(domain.ErrNothingToClaim) || !domain.IsStateError(domain.ErrNoSettlementYet) {
		t.Error("ErrNoSettlementYet and ErrNothingToClaim must fall in different categories")
	}
}
