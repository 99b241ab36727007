// Package scheduler runs the market keeper: two background jobs that keep
// frames moving without a human in the loop.
//  1. settlement job – on a cron schedule, fixes closing rates for frames whose
//     settlement window has opened and settles frames whose rate is set.
//  2. rateBroadcastLoop – pushes the live rate to WS clients every interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/ws"
	"github.com/robfig/cron/v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators
// ──────────────────────────────────────────────────────────────────────────────

// Engine is the slice of the market the keeper drives.
type Engine interface {
	Due(ctx context.Context) (rateDue, settleDue []int64)
	SetRate(ctx context.Context, caller common.Address, key int64) (domain.Frame, error)
	Settle(ctx context.Context, caller common.Address, key int64) (domain.Settlement, error)
	CurrentRate(ctx context.Context) (fixedpoint.Q96, error)
	Quantize(r fixedpoint.Q96) fixedpoint.Q96
	NextFrameKey() int64
}

// RateBroadcaster receives the periodic live-rate push.
type RateBroadcaster interface {
	BroadcastRateUpdate(msg ws.RateUpdateMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler wires the engine to its cron schedule and broadcast ticker. Call
// Start once from main(); cancel the context and call Stop to shut it down.
type Scheduler struct {
	engine Engine
	hub    RateBroadcaster
	caller common.Address
	cfg    config.KeeperConfig
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewScheduler creates a Scheduler. caller is the address the keeper
// presents to SetRate and Settle; hub may be nil.
func NewScheduler(engine Engine, hub RateBroadcaster, caller common.Address, cfg config.KeeperConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		hub:    hub,
		caller: caller,
		cfg:    cfg,
		logger: logger.With("component", "keeper"),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:    time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start registers the settlement job and launches the broadcast loop. It
// returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("scheduler.Start: schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	if s.hub != nil && s.cfg.BroadcastInterval > 0 {
		go s.rateBroadcastLoop(ctx)
	}
	s.logger.Info("keeper started", "schedule", s.cfg.Schedule, "broadcast", s.cfg.BroadcastInterval)
	return nil
}

// Stop halts the cron schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("keeper stopped")
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement job
// ──────────────────────────────────────────────────────────────────────────────

// TickResult summarises one keeper pass.
type TickResult struct {
	RatesSet []int64
	Settled  []domain.Settlement
	Failed   int
}

// Tick fixes every due closing rate, then settles every frame whose rate is
// set, oldest first. Failures are logged and skipped; a frame another caller
// handled first is not a failure.
func (s *Scheduler) Tick(ctx context.Context) (res TickResult) {
	defer s.recoverAndLog("Tick")

	rateDue, _ := s.engine.Due(ctx)
	for _, key := range rateDue {
		if ctx.Err() != nil {
			return res
		}
		f, err := s.engine.SetRate(ctx, s.caller, key)
		if err != nil {
			res.Failed += s.logFailure("set rate", key, err)
			continue
		}
		res.RatesSet = append(res.RatesSet, key)
		s.logger.Info("closing rate set", "frame", key, "rate", f.ClosingRate.String())
	}

	_, settleDue := s.engine.Due(ctx)
	for _, key := range settleDue {
		if ctx.Err() != nil {
			return res
		}
		st, err := s.engine.Settle(ctx, s.caller, key)
		if err != nil {
			res.Failed += s.logFailure("settle", key, err)
			continue
		}
		res.Settled = append(res.Settled, st)
		s.logger.Info("frame settled",
			"frame", key, "winner", st.Winner, "payout", st.Payout.String(), "rollover_frame", st.RolloverFrame)
	}
	return res
}

// logFailure reports err and returns 1 if it counts as a failure.
func (s *Scheduler) logFailure(op string, key int64, err error) int {
	if domain.IsStateError(err) {
		s.logger.Debug("keeper skipped frame", "op", op, "frame", key, "reason", err)
		return 0
	}
	s.logger.Warn("keeper operation failed", "op", op, "frame", key, "err", err)
	return 1
}

// ──────────────────────────────────────────────────────────────────────────────
// rateBroadcastLoop
// ──────────────────────────────────────────────────────────────────────────────

// rateBroadcastLoop pushes the live rate to WS clients every interval.
func (s *Scheduler) rateBroadcastLoop(ctx context.Context) {
	defer s.recoverAndLog("rateBroadcastLoop")

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rateBroadcastLoop: shutting down")
			return
		case <-ticker.C:
			s.BroadcastRate(ctx)
		}
	}
}

// BroadcastRate reads the live rate once and pushes it to the hub.
func (s *Scheduler) BroadcastRate(ctx context.Context) {
	if s.hub == nil {
		return
	}
	r, err := s.engine.CurrentRate(ctx)
	if err != nil {
		s.logger.Warn("rate broadcast: price unavailable", "err", err)
		return
	}
	now := s.now().UTC()
	next := s.engine.NextFrameKey()
	s.hub.BroadcastRateUpdate(ws.RateUpdateMessage{
		Rate:            r,
		RateText:        r.Decimal().String(),
		Bucket:          s.engine.Quantize(r),
		NextFrame:       next,
		TimeLeftSeconds: max(next-now.Unix(), 0),
		Timestamp:       now,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each job to catch unexpected panics, log
// them, and keep the keeper running.
func (s *Scheduler) recoverAndLog(job string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in keeper job", "job", job, "panic", r)
	}
}
