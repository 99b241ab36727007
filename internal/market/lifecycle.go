package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// rateOpensAt is when the closing rate of frame key may first be fixed.
func (m *Market) rateOpensAt(key int64) int64 {
	return key + m.cfg.period - m.cfg.window
}

// SetRate fixes the closing rate of frame key from the live rate. Anyone may
// call it once the frame's settlement window has opened.
func (m *Market) SetRate(ctx context.Context, caller common.Address, key int64) (domain.Frame, error) {
	var out domain.Frame
	err := m.run(ctx, "SetRate", func(t *txn) error {
		f, ok := m.frames[key]
		if !ok {
			return fmt.Errorf("frame %d: %w", key, domain.ErrFrameNotFound)
		}
		if f.HasClosingRate() {
			return fmt.Errorf("frame %d: %w", key, domain.ErrRateAlreadySet)
		}
		if t.at < m.rateOpensAt(key) {
			return fmt.Errorf("frame %d opens for rate at %d: %w", key, m.rateOpensAt(key), domain.ErrRateWindowNotOpen)
		}

		r, err := m.rates.CurrentRate(t.ctx)
		if err != nil {
			return err
		}

		t.advance(f)
		t.touchFrame(f)
		f.ClosingRate = r
		f.RateSetAt = t.at
		f.State = domain.FrameRateSet

		out = *f
		t.emit(EventRateSet, out)
		return nil
	})
	if err != nil {
		return domain.Frame{}, err
	}
	m.logger.Info("closing rate set", "frame", key, "rate", out.ClosingRate.String(), "caller", caller)
	return out, nil
}

// OverrideRate lets the owner force the closing rate of a frame whose trading
// has ended and which is not yet settled. It replaces any rate already set.
func (m *Market) OverrideRate(ctx context.Context, caller common.Address, key int64, r fixedpoint.Q96) (domain.Frame, error) {
	var out domain.Frame
	err := m.run(ctx, "OverrideRate", func(t *txn) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if r.IsZero() {
			return domain.ErrInvalidRate
		}
		f, ok := m.frames[key]
		if !ok {
			return fmt.Errorf("frame %d: %w", key, domain.ErrFrameNotFound)
		}
		if f.IsSettled() {
			return fmt.Errorf("frame %d: %w", key, domain.ErrAlreadySettled)
		}
		if m.effectiveState(f, t.at) == domain.FrameOpen {
			return fmt.Errorf("frame %d is still trading: %w", key, domain.ErrRateWindowNotOpen)
		}

		t.advance(f)
		t.touchFrame(f)
		f.ClosingRate = r
		f.RateSetAt = t.at
		f.RateOverridden = true
		f.State = domain.FrameRateSet

		out = *f
		t.emit(EventRateSet, out)
		return nil
	})
	if err != nil {
		return domain.Frame{}, err
	}
	m.logger.Info("closing rate overridden", "frame", key, "rate", r.String())
	return out, nil
}

// Due lists frames whose closing rate may now be fixed and frames ready to
// settle, both oldest first.
func (m *Market) Due(ctx context.Context) (rateDue, settleDue []int64) {
	defer m.readLock(ctx)()

	now := m.now()
	for _, key := range m.frameKeys {
		f := m.frames[key]
		switch {
		case f.IsSettled():
		case f.HasClosingRate():
			settleDue = append(settleDue, key)
		case now >= m.rateOpensAt(key):
			rateDue = append(rateDue, key)
		}
	}
	return rateDue, settleDue
}
