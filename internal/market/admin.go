package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ──────────────────────────────────────────────────────────────────────────────
// Owner-only administration
// ──────────────────────────────────────────────────────────────────────────────

// AdjustTaxRate sets the base tax rate (a fraction in (0, 1]). It applies to
// every later tax computation.
func (m *Market) AdjustTaxRate(ctx context.Context, caller common.Address, r fixedpoint.Q96) error {
	err := m.run(ctx, "AdjustTaxRate", func(t *txn) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		prev := m.taxes.BaseRate()
		if err := m.taxes.SetBaseRate(r); err != nil {
			return err
		}
		t.onUndo(func() { _ = m.taxes.SetBaseRate(prev) })
		p := t.touchParams()
		p.BaseTaxRate = r
		t.emit(EventParams, *p)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("base tax rate adjusted", "rate", r.String())
	return nil
}

// AdjustProtocolFee sets the protocol fee taken from each payout half (a
// fraction in [0, 1]).
func (m *Market) AdjustProtocolFee(ctx context.Context, caller common.Address, r fixedpoint.Q96) error {
	err := m.run(ctx, "AdjustProtocolFee", func(t *txn) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if r.Gt(fixedpoint.One()) {
			return domain.ErrInvalidRate
		}
		p := t.touchParams()
		p.ProtocolFeeRate = r
		t.emit(EventParams, *p)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("protocol fee adjusted", "rate", r.String())
	return nil
}

// Withdraw sends amount raw units of the engine's free balance to the owner.
// Funds backing unsettled pools and pending referral rewards are reserved.
func (m *Market) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	err := m.run(ctx, "Withdraw", func(t *txn) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return domain.ErrInvalidAmount
		}
		free, err := m.freeBalance(t.ctx)
		if err != nil {
			return err
		}
		if amount.Cmp(free) > 0 {
			return fmt.Errorf("requested %s, free %s: %w", amount, free, domain.ErrWithdrawExceedsFree)
		}
		t.send(domain.TransferWithdraw, m.cfg.engine, m.cfg.owner, amount, 0)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("owner withdrawal", "amount", amount)
	return nil
}

// reserved is the raw amount the engine owes: unsettled pools plus pending
// referral rewards, rounded up.
func (m *Market) reserved() (*big.Int, error) {
	var sum fixedpoint.Q96
	for _, f := range m.frames {
		if f.IsSettled() {
			continue
		}
		if err := addTo(&sum, f.RewardPool); err != nil {
			return nil, err
		}
	}
	for _, a := range m.accounts {
		if err := addTo(&sum, a.PendingReferralReward); err != nil {
			return nil, err
		}
	}
	return fixedpoint.FromFixedUp(sum, m.cfg.decimals), nil
}

func (m *Market) freeBalance(ctx context.Context) (*big.Int, error) {
	held, err := m.asset.BalanceOf(ctx, m.cfg.engine)
	if err != nil {
		return nil, fmt.Errorf("engine balance: %w", err)
	}
	owed, err := m.reserved()
	if err != nil {
		return nil, err
	}
	free := new(big.Int).Sub(held, owed)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free, nil
}

// FreeBalance reports what Withdraw would currently allow.
func (m *Market) FreeBalance(ctx context.Context) (*big.Int, error) {
	defer m.readLock(ctx)()
	return m.freeBalance(ctx)
}
