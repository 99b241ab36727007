package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// split is a reward pool divided into payout, fee and rollover. Payout and fee
// are rounded down to raw units; the dust stays in the rollover.
type split struct {
	payout    fixedpoint.Q96
	fee       fixedpoint.Q96
	rollover  fixedpoint.Q96
	payoutRaw *big.Int
	feeRaw    *big.Int
}

func (m *Market) splitPool(pool, feeRate fixedpoint.Q96) (split, error) {
	half := pool.Half()
	fee, err := half.Mul(feeRate)
	if err != nil {
		return split{}, err
	}
	payout, err := half.Sub(fee)
	if err != nil {
		return split{}, err
	}

	s := split{
		payoutRaw: fixedpoint.FromFixedDown(payout, m.cfg.decimals),
		feeRaw:    fixedpoint.FromFixedDown(fee, m.cfg.decimals),
	}
	if s.payout, err = fixedpoint.ToFixed(s.payoutRaw, m.cfg.decimals); err != nil {
		return split{}, err
	}
	if s.fee, err = fixedpoint.ToFixed(s.feeRaw, m.cfg.decimals); err != nil {
		return split{}, err
	}
	paid, err := s.payout.Add(s.fee)
	if err != nil {
		return split{}, err
	}
	if s.rollover, err = pool.Sub(paid); err != nil {
		return split{}, err
	}
	return s, nil
}

// winner returns the owner of the lot at bucket in frame key, or the owner
// account when the bucket is unowned.
func (m *Market) winner(key int64, bucket fixedpoint.Q96) (common.Address, bool) {
	if lot, ok := m.lots[domain.LotKey{Frame: key, Bucket: bucket}]; ok {
		if owner := lot.Owner(); owner != (common.Address{}) {
			return owner, false
		}
	}
	return m.cfg.owner, true
}

// rolloverTarget is the first frame after key that is not settled.
func (m *Market) rolloverTarget(key int64) int64 {
	next := key + m.cfg.period
	for {
		f, ok := m.frames[next]
		if !ok || !f.IsSettled() {
			return next
		}
		next += m.cfg.period
	}
}

// Settle distributes the reward pool of frame key: the owner of the bucket
// matching the closing rate receives half the pool less the protocol fee, the
// owner account receives the fee, and the remainder rolls into the next
// unsettled frame.
func (m *Market) Settle(ctx context.Context, caller common.Address, key int64) (domain.Settlement, error) {
	return m.settle(ctx, caller, &key)
}

// SettleNext settles the oldest frame whose closing rate is set.
func (m *Market) SettleNext(ctx context.Context, caller common.Address) (domain.Settlement, error) {
	return m.settle(ctx, caller, nil)
}

func (m *Market) settle(ctx context.Context, caller common.Address, keyArg *int64) (domain.Settlement, error) {
	var out domain.Settlement
	err := m.run(ctx, "Settle", func(t *txn) error {
		var key int64
		if keyArg != nil {
			key = *keyArg
		} else {
			found := false
			for _, k := range m.frameKeys {
				if f := m.frames[k]; f.State == domain.FrameRateSet {
					key, found = k, true
					break
				}
			}
			if !found {
				return domain.ErrNothingToSettle
			}
		}

		f, ok := m.frames[key]
		if !ok {
			return fmt.Errorf("frame %d: %w", key, domain.ErrFrameNotFound)
		}
		if f.IsSettled() {
			return fmt.Errorf("frame %d: %w", key, domain.ErrAlreadySettled)
		}
		if !f.HasClosingRate() {
			return fmt.Errorf("frame %d: %w", key, domain.ErrRateNotSet)
		}

		bucket := m.rates.Quantize(f.ClosingRate)
		winner, fellBack := m.winner(key, bucket)
		s, err := m.splitPool(f.RewardPool, m.params.ProtocolFeeRate)
		if err != nil {
			return err
		}

		outbound := new(big.Int).Add(s.payoutRaw, s.feeRaw)
		if outbound.Sign() > 0 {
			held, err := m.asset.BalanceOf(t.ctx, m.cfg.engine)
			if err != nil {
				return fmt.Errorf("engine balance: %w", err)
			}
			if held.Cmp(outbound) < 0 {
				return fmt.Errorf("engine holds %s, owes %s: %w", held, outbound, domain.ErrInsufficientBalance)
			}
		}

		// ── Effects ──────────────────────────────────────────────────────────
		t.touchFrame(f)
		f.State = domain.FrameSettled
		f.WinningBucket = bucket
		f.ClaimedBy = winner
		f.Payout = s.payout
		f.ProtocolFee = s.fee
		f.Rollover = s.rollover
		f.SettledAt = t.at

		target := m.rolloverTarget(key)
		if !s.rollover.IsZero() {
			next := t.frame(target)
			if err := addTo(&next.RewardPool, s.rollover); err != nil {
				return err
			}
		}
		t.touchParams().SettledCount++

		// ── Interactions ─────────────────────────────────────────────────────
		t.send(domain.TransferPayout, m.cfg.engine, winner, s.payoutRaw, key)
		t.send(domain.TransferProtocolFee, m.cfg.engine, m.cfg.owner, s.feeRaw, key)

		out = domain.Settlement{
			FrameKey:      key,
			ClosingRate:   f.ClosingRate,
			WinningBucket: bucket,
			Winner:        winner,
			FellBack:      fellBack,
			RewardPool:    f.RewardPool,
			Payout:        s.payout,
			ProtocolFee:   s.fee,
			Rollover:      s.rollover,
			RolloverFrame: target,
		}
		t.emit(EventFrameSettled, out)
		return nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}

	m.logger.Info("frame settled",
		"frame", out.FrameKey,
		"winner", out.Winner,
		"fell_back", out.FellBack,
		"pool", out.RewardPool.String(),
		"payout", out.Payout.String(),
		"fee", out.ProtocolFee.String(),
		"rollover", out.Rollover.String(),
		"caller", caller,
	)
	return out, nil
}

// EstimateReward projects the settlement of frame key from its current pool.
// Before the closing rate is fixed the live rate stands in for it.
func (m *Market) EstimateReward(ctx context.Context, key int64) (domain.RewardEstimate, error) {
	defer m.readLock(ctx)()

	f, ok := m.frames[key]
	if !ok {
		return domain.RewardEstimate{}, fmt.Errorf("market.EstimateReward: frame %d: %w", key, domain.ErrFrameNotFound)
	}
	if f.IsSettled() {
		return domain.RewardEstimate{
			FrameKey:      key,
			Rate:          f.ClosingRate,
			WinningBucket: f.WinningBucket,
			Winner:        f.ClaimedBy,
			RewardPool:    f.RewardPool,
			Payout:        f.Payout,
			ProtocolFee:   f.ProtocolFee,
			Rollover:      f.Rollover,
		}, nil
	}

	r := f.ClosingRate
	if !f.HasClosingRate() {
		live, err := m.rates.CurrentRate(ctx)
		if err != nil {
			return domain.RewardEstimate{}, fmt.Errorf("market.EstimateReward: %w", err)
		}
		r = live
	}
	bucket := m.rates.Quantize(r)
	winner, _ := m.winner(key, bucket)
	s, err := m.splitPool(f.RewardPool, m.params.ProtocolFeeRate)
	if err != nil {
		return domain.RewardEstimate{}, fmt.Errorf("market.EstimateReward: %w", err)
	}
	return domain.RewardEstimate{
		FrameKey:      key,
		Rate:          r,
		WinningBucket: bucket,
		Winner:        winner,
		RewardPool:    f.RewardPool,
		Payout:        s.payout,
		ProtocolFee:   s.fee,
		Rollover:      s.rollover,
	}, nil
}
