package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// tradeQuote is everything a trade would do, computed without side effects.
type tradeQuote struct {
	key      domain.LotKey
	prev     domain.LotState
	hasPrev  bool
	resale   bool
	tax      fixedpoint.Q96
	revenue  fixedpoint.Q96 // toFixed(taxRaw): tax actually received
	skim     fixedpoint.Q96
	skimTo   common.Address
	assignTo common.Address // referrer to record on the payer, if any
	taxRaw   *big.Int
	refund   *big.Int
	charge   *big.Int
}

// quoteTrade validates req for payer at now and prices it. Caller holds a lock.
func (m *Market) quoteTrade(payer common.Address, req domain.TradeRequest, now int64) (*tradeQuote, error) {
	if payer == (common.Address{}) {
		return nil, domain.ErrUnauthorized
	}
	if req.AcquisitionPrice.IsZero() {
		return nil, domain.ErrInvalidPrice
	}
	if req.FrameKey%m.cfg.period != 0 {
		return nil, fmt.Errorf("frame %d: %w", req.FrameKey, domain.ErrInvalidFrameKey)
	}
	if !m.rates.Quantize(req.Bucket).Eq(req.Bucket) {
		return nil, fmt.Errorf("bucket %s: %w", req.Bucket, domain.ErrInvalidBucket)
	}

	if now >= req.FrameKey {
		return nil, fmt.Errorf("frame %d: %w", req.FrameKey, domain.ErrFrameClosed)
	}
	if f, ok := m.frames[req.FrameKey]; ok && m.effectiveState(f, now) != domain.FrameOpen {
		return nil, fmt.Errorf("frame %d is %s: %w", req.FrameKey, f.State, domain.ErrFrameClosed)
	}

	q := &tradeQuote{key: domain.LotKey{Frame: req.FrameKey, Bucket: req.Bucket}}

	var err error
	q.tax, err = m.taxes.Tax(req.FrameKey, req.AcquisitionPrice, now)
	if err != nil {
		return nil, err
	}
	q.taxRaw = fixedpoint.FromFixed(q.tax, m.cfg.decimals)
	if q.tax.IsZero() || q.taxRaw.Sign() == 0 {
		return nil, domain.ErrZeroTax
	}
	if q.revenue, err = fixedpoint.ToFixed(q.taxRaw, m.cfg.decimals); err != nil {
		return nil, err
	}

	q.refund = new(big.Int)
	if lot, ok := m.lots[q.key]; ok {
		q.prev, q.hasPrev = lot.Current()
	}
	if q.hasPrev && q.prev.Owner != payer {
		q.resale = true
		q.refund = fixedpoint.FromFixed(q.prev.AcquisitionPrice, m.cfg.decimals)
	}
	q.charge = new(big.Int).Add(q.taxRaw, q.refund)

	// Skim goes to a referrer assigned before this trade.
	acct, hasAcct := m.accounts[payer]
	if hasAcct && acct.HasReferrer() {
		q.skimTo = acct.ReferredBy
		if q.skim, err = q.revenue.Mul(m.cfg.skim); err != nil {
			return nil, err
		}
	}

	if req.Referrer != (common.Address{}) && !(hasAcct && acct.HasReferrer()) {
		if req.Referrer == payer {
			return nil, domain.ErrSelfReferral
		}
		if _, ok := m.accounts[req.Referrer]; !ok {
			return nil, fmt.Errorf("referrer %s: %w", req.Referrer, domain.ErrUnknownReferrer)
		}
		q.assignTo = req.Referrer
	}
	return q, nil
}

func (q *tradeQuote) receipt(st domain.LotState, idx int) domain.TradeReceipt {
	r := domain.TradeReceipt{
		FrameKey:     q.key.Frame,
		Bucket:       q.key.Bucket,
		StateIndex:   idx,
		State:        st,
		Resale:       q.resale,
		Tax:          q.tax,
		Charged:      new(big.Int).Set(q.charge),
		Refunded:     new(big.Int).Set(q.refund),
		ReferralSkim: q.skim,
		Referrer:     q.skimTo,
	}
	if q.hasPrev {
		r.PreviousOwner = q.prev.Owner
	}
	return r
}

// Trade claims or re-prices the lot at (req.FrameKey, req.Bucket) for payer.
//
// A first claim or a revaluation by the current owner charges only the tax.
// A resale charges tax plus the previous owner's declared price, and that
// price is paid to the previous owner in full. Tax revenue, less any referral
// skim, is credited to the frame's reward pool.
func (m *Market) Trade(ctx context.Context, payer common.Address, req domain.TradeRequest) (domain.TradeReceipt, error) {
	var receipt domain.TradeReceipt
	err := m.run(ctx, "Trade", func(t *txn) error {
		q, err := m.quoteTrade(payer, req, t.at)
		if err != nil {
			return err
		}

		allowance, err := m.asset.Allowance(t.ctx, payer, m.cfg.engine)
		if err != nil {
			return fmt.Errorf("allowance: %w", err)
		}
		if allowance.Cmp(q.charge) < 0 {
			return fmt.Errorf("need %s, approved %s: %w", q.charge, allowance, domain.ErrInsufficientAllowance)
		}
		balance, err := m.asset.BalanceOf(t.ctx, payer)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		if balance.Cmp(q.charge) < 0 {
			return fmt.Errorf("need %s, hold %s: %w", q.charge, balance, domain.ErrInsufficientBalance)
		}

		// ── Effects ──────────────────────────────────────────────────────────
		f := t.frame(req.FrameKey)
		acct := t.account(payer)

		pool, err := q.revenue.Sub(q.skim)
		if err != nil {
			return err
		}
		if err := addTo(&f.RewardPool, pool); err != nil {
			return err
		}
		if !q.skim.IsZero() {
			ref := t.account(q.skimTo)
			if err := addTo(&ref.PendingReferralReward, q.skim); err != nil {
				return err
			}
			if err := addTo(&f.ReferralFeeAccrued, q.skim); err != nil {
				return err
			}
		}

		st := domain.LotState{
			Timestamp:        t.at,
			Owner:            payer,
			AcquisitionPrice: req.AcquisitionPrice,
			TaxCharged:       q.tax,
		}
		idx := t.appendState(q.key, st)

		if q.assignTo != (common.Address{}) {
			acct.ReferredBy = q.assignTo
		}

		// ── Interactions ─────────────────────────────────────────────────────
		t.send(domain.TransferTradeCharge, payer, m.cfg.engine, q.charge, req.FrameKey)
		if q.resale {
			t.send(domain.TransferResaleRefund, m.cfg.engine, q.prev.Owner, q.refund, req.FrameKey)
		}

		receipt = q.receipt(st, idx)
		t.emit(EventLotTraded, receipt)
		return nil
	})
	if err != nil {
		return domain.TradeReceipt{}, err
	}

	m.logger.Info("lot traded",
		"frame", receipt.FrameKey,
		"bucket", receipt.Bucket.String(),
		"owner", payer,
		"price", req.AcquisitionPrice.String(),
		"tax", receipt.Tax.String(),
		"resale", receipt.Resale,
		"charged", receipt.Charged,
	)
	return receipt, nil
}

// EstimateTrade prices a trade without side effects. Allowance and balance
// are not checked.
func (m *Market) EstimateTrade(ctx context.Context, payer common.Address, req domain.TradeRequest) (domain.TradeReceipt, error) {
	defer m.readLock(ctx)()

	now := m.now()
	q, err := m.quoteTrade(payer, req, now)
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("market.EstimateTrade: %w", err)
	}
	idx := 0
	if lot, ok := m.lots[q.key]; ok {
		idx = len(lot.States)
	}
	st := domain.LotState{Timestamp: now, Owner: payer, AcquisitionPrice: req.AcquisitionPrice, TaxCharged: q.tax}
	return q.receipt(st, idx), nil
}
