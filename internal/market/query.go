package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ──────────────────────────────────────────────────────────────────────────────
// Read accessors. All are side-effect free.
// ──────────────────────────────────────────────────────────────────────────────

// CurrentRate returns the live rate.
func (m *Market) CurrentRate(ctx context.Context) (fixedpoint.Q96, error) {
	return m.rates.CurrentRate(ctx)
}

// Quantize returns the bucket containing r.
func (m *Market) Quantize(r fixedpoint.Q96) fixedpoint.Q96 {
	return m.rates.Quantize(r)
}

// Tax returns the tax a trade at price on frame key would pay now.
func (m *Market) Tax(key int64, price fixedpoint.Q96) (fixedpoint.Q96, error) {
	if key%m.cfg.period != 0 {
		return fixedpoint.Q96{}, fmt.Errorf("market.Tax: frame %d: %w", key, domain.ErrInvalidFrameKey)
	}
	return m.taxes.Tax(key, price, m.now())
}

// Params returns the current parameters.
func (m *Market) Params(ctx context.Context) domain.ParamsView {
	defer m.readLock(ctx)()
	return domain.ParamsView{
		Params:           m.params,
		ReferralSkimRate: m.cfg.skim,
		PriceStep:        m.cfg.step,
		PeriodSeconds:    m.cfg.period,
		WindowSeconds:    m.cfg.window,
		TaxAnchorSeconds: m.cfg.anchor,
		AssetDecimals:    m.cfg.decimals,
	}
}

// Frame returns a copy of frame key with its effective state.
func (m *Market) Frame(ctx context.Context, key int64) (domain.Frame, error) {
	defer m.readLock(ctx)()
	f, ok := m.frames[key]
	if !ok {
		return domain.Frame{}, fmt.Errorf("market.Frame: %d: %w", key, domain.ErrFrameNotFound)
	}
	return m.frameView(f, m.now()), nil
}

func (m *Market) frameView(f *domain.Frame, now int64) domain.Frame {
	out := *f
	out.State = m.effectiveState(f, now)
	return out
}

// Frames pages through all frames in key order and returns the total count.
func (m *Market) Frames(ctx context.Context, offset, limit int) ([]domain.Frame, int) {
	defer m.readLock(ctx)()
	total := len(m.frameKeys)
	lo, hi := page(total, offset, limit)
	now := m.now()
	out := make([]domain.Frame, 0, hi-lo)
	for _, k := range m.frameKeys[lo:hi] {
		out = append(out, m.frameView(m.frames[k], now))
	}
	return out, total
}

// FramesBetween returns frames with from ≤ key < to in key order.
func (m *Market) FramesBetween(ctx context.Context, from, to int64) []domain.Frame {
	defer m.readLock(ctx)()
	lo := sort.Search(len(m.frameKeys), func(i int) bool { return m.frameKeys[i] >= from })
	hi := sort.Search(len(m.frameKeys), func(i int) bool { return m.frameKeys[i] >= to })
	now := m.now()
	out := make([]domain.Frame, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		out = append(out, m.frameView(m.frames[m.frameKeys[i]], now))
	}
	return out
}

// Lot returns a copy of the lot and its full history.
func (m *Market) Lot(ctx context.Context, key int64, bucket fixedpoint.Q96) (domain.Lot, error) {
	defer m.readLock(ctx)()
	lot, ok := m.lots[domain.LotKey{Frame: key, Bucket: bucket}]
	if !ok {
		return domain.Lot{}, fmt.Errorf("market.Lot: %d/%s: %w", key, bucket, domain.ErrLotNotFound)
	}
	out := *lot
	out.States = append([]domain.LotState(nil), lot.States...)
	return out, nil
}

// LotStates returns the ownership history of a lot, oldest first.
func (m *Market) LotStates(ctx context.Context, key int64, bucket fixedpoint.Q96) ([]domain.LotState, error) {
	lot, err := m.Lot(ctx, key, bucket)
	if err != nil {
		return nil, err
	}
	return lot.States, nil
}

// Lots pages through a frame's lots in bucket order and returns the total.
func (m *Market) Lots(ctx context.Context, key int64, offset, limit int) ([]domain.LotView, int, error) {
	defer m.readLock(ctx)()
	if _, ok := m.frames[key]; !ok {
		return nil, 0, fmt.Errorf("market.Lots: %d: %w", key, domain.ErrFrameNotFound)
	}
	bs := m.buckets[key]
	lo, hi := page(len(bs), offset, limit)
	out := make([]domain.LotView, 0, hi-lo)
	for _, b := range bs[lo:hi] {
		out = append(out, m.lots[domain.LotKey{Frame: key, Bucket: b}].View())
	}
	return out, len(bs), nil
}

// Account returns a copy of an account record.
func (m *Market) Account(ctx context.Context, addr common.Address) (domain.Account, error) {
	defer m.readLock(ctx)()
	a, ok := m.accounts[addr]
	if !ok {
		return domain.Account{}, fmt.Errorf("market.Account: %s: %w", addr, domain.ErrAccountNotFound)
	}
	return *a, nil
}

// page clamps offset/limit to [0, total]. A non-positive limit means 50.
func page(total, offset, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	lo := min(offset, total)
	hi := min(lo+limit, total)
	return lo, hi
}
