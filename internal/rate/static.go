package rate

import (
	"context"
	"sync"

	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// StaticSource reports a manually set rate. Used in development and tests.
type StaticSource struct {
	mu   sync.RWMutex
	rate fixedpoint.Q96
	set  bool
}

// NewStaticSource returns a source that reports r until Set is called.
func NewStaticSource(r fixedpoint.Q96) *StaticSource {
	return &StaticSource{rate: r, set: true}
}

// Set replaces the reported rate.
func (s *StaticSource) Set(r fixedpoint.Q96) {
	s.mu.Lock()
	s.rate, s.set = r, true
	s.mu.Unlock()
}

// Observe implements Source.
func (s *StaticSource) Observe(context.Context) (fixedpoint.Q96, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return fixedpoint.Q96{}, ErrNoObservation
	}
	return s.rate, nil
}
