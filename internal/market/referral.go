package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ClaimReferralRewards pays caller's whole pending referral balance, rounded
// down to raw units, and zeroes it. Claims open after the first settlement.
func (m *Market) ClaimReferralRewards(ctx context.Context, caller common.Address) (*big.Int, error) {
	var paid *big.Int
	err := m.run(ctx, "ClaimReferralRewards", func(t *txn) error {
		if m.params.SettledCount == 0 {
			return domain.ErrNoSettlementYet
		}
		a, ok := m.accounts[caller]
		if !ok {
			return fmt.Errorf("account %s: %w", caller, domain.ErrAccountNotFound)
		}
		if a.PendingReferralReward.IsZero() {
			return domain.ErrNothingToClaim
		}
		raw := fixedpoint.FromFixedDown(a.PendingReferralReward, m.cfg.decimals)
		if raw.Sign() == 0 {
			return fmt.Errorf("pending %s is below one unit: %w", a.PendingReferralReward, domain.ErrNothingToClaim)
		}

		t.touchAccount(a)
		a.PendingReferralReward = fixedpoint.Q96{}

		t.send(domain.TransferReferralClaim, m.cfg.engine, caller, raw, 0)
		paid = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("referral rewards claimed", "account", caller, "amount", paid)
	return paid, nil
}

// PendingReferralRewards returns account's unclaimed referral balance; zero
// for unknown accounts.
func (m *Market) PendingReferralRewards(ctx context.Context, account common.Address) fixedpoint.Q96 {
	defer m.readLock(ctx)()
	if a, ok := m.accounts[account]; ok {
		return a.PendingReferralReward
	}
	return fixedpoint.Q96{}
}
