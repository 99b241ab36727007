// Package rate turns external spot observations into the Q96 rate used by the
// market and quantises rates into price buckets.
package rate

import (
	"context"
	"errors"
	"fmt"

	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ErrNoObservation is returned when a source has nothing to report yet.
var ErrNoObservation = errors.New("rate: no observation available")

// Source yields the latest spot observation already converted to Q96.
type Source interface {
	Observe(ctx context.Context) (fixedpoint.Q96, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Adapter
// ──────────────────────────────────────────────────────────────────────────────

// Adapter isolates the market from the price source's native format and owns
// the bucket quantisation step.
type Adapter struct {
	src  Source
	step fixedpoint.Q96
}

// NewAdapter constructs an Adapter. step must be positive.
func NewAdapter(src Source, step fixedpoint.Q96) (*Adapter, error) {
	if src == nil {
		return nil, errors.New("rate.NewAdapter: nil source")
	}
	if step.IsZero() {
		return nil, fmt.Errorf("rate.NewAdapter: price step: %w", fixedpoint.ErrDivisionByZero)
	}
	return &Adapter{src: src, step: step}, nil
}

// CurrentRate returns the live rate from the underlying source.
func (a *Adapter) CurrentRate(ctx context.Context) (fixedpoint.Q96, error) {
	r, err := a.src.Observe(ctx)
	if err != nil {
		return fixedpoint.Q96{}, fmt.Errorf("rate.CurrentRate: %w", err)
	}
	return r, nil
}

// Quantize returns floor(r/step)*step. It is idempotent and monotonic
// non-decreasing in r.
func (a *Adapter) Quantize(r fixedpoint.Q96) fixedpoint.Q96 {
	// step is non-zero and the result never exceeds r, so Floor cannot fail.
	b, _ := r.Floor(a.step)
	return b
}

// Step returns the bucket width.
func (a *Adapter) Step() fixedpoint.Q96 {
	return a.step
}
