package market_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

var (
	bucket3100 = fixedpoint.FromUint64(3100)
	dave       = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func TestReferral_AssignedOnceAndSkimmedAfter(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 100)
	h.fund(bob, 100)
	h.fund(carol, 100)
	key := genesis + day

	h.trade(alice, key, bucket3000, 40)

	first, err := h.m.Trade(h.ctx, bob, domain.TradeRequest{
		FrameKey: key, Bucket: bucket3100, AcquisitionPrice: fixedpoint.FromUint64(40), Referrer: alice,
	})
	if err != nil {
		t.Fatalf("Trade with referrer: %v", err)
	}
	if !first.ReferralSkim.IsZero() {
		t.Errorf("skim on the assigning trade = %s, want 0", first.ReferralSkim)
	}
	acct, _ := h.m.Account(h.ctx, bob)
	if acct.ReferredBy != alice {
		t.Fatalf("bob referred by %s, want alice", acct.ReferredBy)
	}

	// carol exists now; a later referrer never replaces the first.
	h.trade(carol, key, fixedpoint.FromUint64(2900), 4)
	second, err := h.m.Trade(h.ctx, bob, domain.TradeRequest{
		FrameKey: key, Bucket: bucket3100, AcquisitionPrice: fixedpoint.FromUint64(40), Referrer: carol,
	})
	if err != nil {
		t.Fatalf("second Trade: %v", err)
	}
	acct, _ = h.m.Account(h.ctx, bob)
	if acct.ReferredBy != alice {
		t.Errorf("bob referred by %s after second trade, want alice", acct.ReferredBy)
	}
	if second.Referrer != alice || !approx(second.ReferralSkim, "0.05") {
		t.Errorf("skim = %s to %s, want ~0.05 to alice", second.ReferralSkim, second.Referrer)
	}

	pending := h.m.PendingReferralRewards(h.ctx, alice)
	if !pending.Eq(second.ReferralSkim) {
		t.Errorf("PendingReferralRewards(alice) = %s, want %s", pending, second.ReferralSkim)
	}
	if got := h.m.PendingReferralRewards(h.ctx, dave); !got.IsZero() {
		t.Errorf("PendingReferralRewards(unknown) = %s, want 0", got)
	}
	f, _ := h.m.Frame(h.ctx, key)
	if !f.ReferralFeeAccrued.Eq(pending) {
		t.Errorf("ReferralFeeAccrued = %s, want %s", f.ReferralFeeAccrued, pending)
	}
	// pool = 10 + 10 + 1 + (10 - skim)
	wantPool, _ := fixedpoint.FromUint64(31).Sub(pending)
	if !f.RewardPool.Eq(wantPool) {
		t.Errorf("pool = %s, want %s", f.RewardPool, wantPool)
	}
}

func TestReferral_Claim(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 100)
	h.fund(bob, 100)
	key := genesis + day

	h.trade(alice, key, bucket3000, 40)
	if _, err := h.m.Trade(h.ctx, bob, domain.TradeRequest{
		FrameKey: key, Bucket: bucket3100, AcquisitionPrice: fixedpoint.FromUint64(40), Referrer: alice,
	}); err != nil {
		t.Fatalf("Trade: %v", err)
	}
	h.trade(bob, key, bucket3100, 40)

	if _, err := h.m.ClaimReferralRewards(h.ctx, alice); !errors.Is(err, domain.ErrNoSettlementYet) {
		t.Errorf("claim before settlement err = %v, want ErrNoSettlementYet", err)
	}

	h.setNow(key + day)
	if _, err := h.m.SetRate(h.ctx, carol, key); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	if _, err := h.m.Settle(h.ctx, carol, key); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	pending := h.m.PendingReferralRewards(h.ctx, alice)
	before := h.balance(alice)
	paid, err := h.m.ClaimReferralRewards(h.ctx, alice)
	if err != nil {
		t.Fatalf("ClaimReferralRewards: %v", err)
	}
	if want := fixedpoint.FromFixedDown(pending, 18); paid.Cmp(want) != 0 {
		t.Errorf("paid %s, want %s", paid, want)
	}
	if got := new(big.Int).Sub(h.balance(alice), before); got.Cmp(paid) != 0 {
		t.Errorf("alice received %s, want %s", got, paid)
	}
	if !h.m.PendingReferralRewards(h.ctx, alice).IsZero() {
		t.Errorf("pending after claim = %s, want 0", h.m.PendingReferralRewards(h.ctx, alice))
	}

	if _, err := h.m.ClaimReferralRewards(h.ctx, alice); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("second claim err = %v, want ErrNothingToClaim", err)
	}
	if _, err := h.m.ClaimReferralRewards(h.ctx, bob); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("claim with nothing pending err = %v, want ErrNothingToClaim", err)
	}
	if _, err := h.m.ClaimReferralRewards(h.ctx, dave); !domain.IsNotFound(err) {
		t.Errorf("claim by unknown account err = %v, want not found", err)
	}
}

// ── Administration ────────────────────────────────────────────────────────────

func TestAdjustTaxRate(t *testing.T) {
	h := newHarness(t)
	key := genesis + day

	if err := h.m.AdjustTaxRate(h.ctx, alice, fixedpoint.MustDecimal("0.5")); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("AdjustTaxRate by non-owner err = %v, want ErrNotOwner", err)
	}
	for _, bad := range []fixedpoint.Q96{{}, fixedpoint.FromUint64(2)} {
		if err := h.m.AdjustTaxRate(h.ctx, owner, bad); !errors.Is(err, domain.ErrInvalidRate) {
			t.Errorf("AdjustTaxRate(%s) err = %v, want ErrInvalidRate", bad, err)
		}
	}

	if err := h.m.AdjustTaxRate(h.ctx, owner, fixedpoint.MustDecimal("0.5")); err != nil {
		t.Fatalf("AdjustTaxRate: %v", err)
	}
	got, err := h.m.Tax(key, fixedpoint.FromUint64(40))
	if err != nil {
		t.Fatalf("Tax: %v", err)
	}
	if !got.Eq(fixedpoint.FromUint64(20)) {
		t.Errorf("Tax(40) after adjust = %s, want 20", got)
	}
	if p := h.m.Params(h.ctx); !p.BaseTaxRate.Eq(fixedpoint.MustDecimal("0.5")) {
		t.Errorf("Params().BaseTaxRate = %s, want 0.5", p.BaseTaxRate)
	}
	if _, err := h.m.Tax(key+1, fixedpoint.FromUint64(40)); !errors.Is(err, domain.ErrInvalidFrameKey) {
		t.Errorf("Tax on unaligned frame err = %v, want ErrInvalidFrameKey", err)
	}
}

func TestAdjustProtocolFee(t *testing.T) {
	h := newHarness(t)

	if err := h.m.AdjustProtocolFee(h.ctx, bob, fixedpoint.MustDecimal("0.2")); !domain.IsAuthorization(err) {
		t.Errorf("AdjustProtocolFee by non-owner err = %v, want authorization error", err)
	}
	if err := h.m.AdjustProtocolFee(h.ctx, owner, fixedpoint.FromUint64(2)); !errors.Is(err, domain.ErrInvalidRate) {
		t.Errorf("AdjustProtocolFee(2) err = %v, want ErrInvalidRate", err)
	}
	if err := h.m.AdjustProtocolFee(h.ctx, owner, fixedpoint.Q96{}); err != nil {
		t.Fatalf("AdjustProtocolFee(0): %v", err)
	}
	if p := h.m.Params(h.ctx); !p.ProtocolFeeRate.IsZero() {
		t.Errorf("ProtocolFeeRate = %s, want 0", p.ProtocolFeeRate)
	}

	// With no fee the winner takes the full half.
	h.fund(alice, 100)
	key := genesis + day
	h.trade(alice, key, bucket3000, 40)
	h.setNow(key + day)
	if _, err := h.m.SetRate(h.ctx, carol, key); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	s, err := h.m.Settle(h.ctx, carol, key)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !s.Payout.Eq(fixedpoint.FromUint64(5)) || !s.ProtocolFee.IsZero() || !s.Rollover.Eq(fixedpoint.FromUint64(5)) {
		t.Errorf("split = %s / %s / %s, want 5 / 0 / 5", s.Payout, s.ProtocolFee, s.Rollover)
	}
}

func TestWithdraw_LimitedToFreeBalance(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 100)
	h.trade(alice, genesis+day, bucket3000, 40)

	free, err := h.m.FreeBalance(h.ctx)
	if err != nil {
		t.Fatalf("FreeBalance: %v", err)
	}
	if free.Sign() != 0 {
		t.Errorf("FreeBalance() = %s, want 0 while the pool is unsettled", free)
	}
	if err := h.m.Withdraw(h.ctx, owner, big.NewInt(1)); !errors.Is(err, domain.ErrWithdrawExceedsFree) {
		t.Errorf("Withdraw(1) err = %v, want ErrWithdrawExceedsFree", err)
	}

	if err := h.ledger.Mint(engine, units(5)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := h.m.Withdraw(h.ctx, alice, units(5)); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("Withdraw by non-owner err = %v, want ErrNotOwner", err)
	}
	if err := h.m.Withdraw(h.ctx, owner, big.NewInt(0)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Withdraw(0) err = %v, want ErrInvalidAmount", err)
	}
	if err := h.m.Withdraw(h.ctx, owner, units(5)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if h.balance(owner).Cmp(units(5)) != 0 {
		t.Errorf("owner balance = %s, want %s", h.balance(owner), units(5))
	}
	if h.balance(engine).Cmp(units(10)) != 0 {
		t.Errorf("engine balance = %s, want the 10 unit pool", h.balance(engine))
	}
}
