// Package tax computes the self-assessed holding tax on a lot. The rate decays
// with the square root of the time left before the frame closes for trading:
//
//	days = max(1, (frameKey − now) / anchor)
//	rate = base / sqrt(days)
//	tax  = price × rate
package tax

import (
	"fmt"
	"sync"

	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// Calculator computes taxes. The base rate is owner-adjustable and takes
// effect for every later computation.
type Calculator struct {
	mu     sync.RWMutex
	base   fixedpoint.Q96
	anchor int64 // seconds
}

// NewCalculator constructs a Calculator. base is a fraction (0.25 == 25 %).
func NewCalculator(base fixedpoint.Q96, anchorSeconds int64) (*Calculator, error) {
	if anchorSeconds <= 0 {
		return nil, fmt.Errorf("tax.NewCalculator: anchor: %w", fixedpoint.ErrDivisionByZero)
	}
	if err := validateBase(base); err != nil {
		return nil, fmt.Errorf("tax.NewCalculator: %w", err)
	}
	return &Calculator{base: base, anchor: anchorSeconds}, nil
}

// BaseRate returns the current base rate.
func (c *Calculator) BaseRate() fixedpoint.Q96 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base
}

// SetBaseRate replaces the base rate. It must lie in (0, 1].
func (c *Calculator) SetBaseRate(base fixedpoint.Q96) error {
	if err := validateBase(base); err != nil {
		return fmt.Errorf("tax.SetBaseRate: %w", err)
	}
	c.mu.Lock()
	c.base = base
	c.mu.Unlock()
	return nil
}

// Rate returns the effective tax rate for a lot of frameKey at now (both Unix
// seconds).
func (c *Calculator) Rate(frameKey, now int64) (fixedpoint.Q96, error) {
	c.mu.RLock()
	base, anchor := c.base, c.anchor
	c.mu.RUnlock()

	days := fixedpoint.One()
	if horizon := frameKey - now; horizon > anchor {
		d, err := fixedpoint.FromUint64(uint64(horizon)).Div(fixedpoint.FromUint64(uint64(anchor)))
		if err != nil {
			return fixedpoint.Q96{}, fmt.Errorf("tax.Rate: %w", err)
		}
		days = d
	}
	root, err := days.Sqrt()
	if err != nil {
		return fixedpoint.Q96{}, fmt.Errorf("tax.Rate: %w", err)
	}
	r, err := base.Div(root)
	if err != nil {
		return fixedpoint.Q96{}, fmt.Errorf("tax.Rate: %w", err)
	}
	return r, nil
}

// Tax returns price × Rate(frameKey, now). A zero result is returned as is;
// rejecting it is the caller's decision.
func (c *Calculator) Tax(frameKey int64, price fixedpoint.Q96, now int64) (fixedpoint.Q96, error) {
	r, err := c.Rate(frameKey, now)
	if err != nil {
		return fixedpoint.Q96{}, err
	}
	t, err := price.Mul(r)
	if err != nil {
		return fixedpoint.Q96{}, fmt.Errorf("tax.Tax: %w", err)
	}
	return t, nil
}

func validateBase(base fixedpoint.Q96) error {
	if base.IsZero() || base.Gt(fixedpoint.One()) {
		return domain.ErrInvalidRate
	}
	return nil
}
