package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/google/uuid"
)

// opKey marks a context as belonging to an in-flight operation of a market.
type opKey struct{}

func (m *Market) inFlight(ctx context.Context) bool {
	v, _ := ctx.Value(opKey{}).(*Market)
	return v == m
}

// readLock takes the read lock unless ctx belongs to this market's in-flight
// operation, in which case the caller already observes finalized state.
func (m *Market) readLock(ctx context.Context) func() {
	if m.inFlight(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

type event struct {
	kind    string
	payload any
}

// txn is the undo log and pending side effects of one mutating operation.
// Effects are applied to memory immediately; rollback restores them in
// reverse order.
type txn struct {
	m   *Market
	ctx context.Context
	op  string
	at  int64

	undo       []func()
	frameOrder []int64
	frameSeen  map[int64]struct{}
	acctOrder  []common.Address
	acctSeen   map[common.Address]struct{}
	states     []domain.LotStateRecord
	params     bool
	transfers  []domain.Transfer
	events     []event
}

// run executes fn as one atomic operation: checks and effects inside fn, then
// the journal write, then asset transfers, then the journal commit. Any
// failure restores memory, rolls back the journal and compensates transfers
// already made. Events are published after the lock is released.
func (m *Market) run(ctx context.Context, op string, fn func(t *txn) error) error {
	if m.inFlight(ctx) {
		return fmt.Errorf("market.%s: %w", op, domain.ErrReentrantCall)
	}

	events, err := m.exec(ctx, op, fn)
	if err != nil {
		return err
	}
	for _, e := range events {
		m.notifier.Publish(e.kind, e.payload)
	}
	return nil
}

func (m *Market) exec(ctx context.Context, op string, fn func(t *txn) error) ([]event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &txn{
		m:         m,
		ctx:       context.WithValue(ctx, opKey{}, m),
		op:        op,
		at:        m.now(),
		frameSeen: make(map[int64]struct{}),
		acctSeen:  make(map[common.Address]struct{}),
	}
	if err := fn(t); err != nil {
		t.rollback()
		return nil, fmt.Errorf("market.%s: %w", op, err)
	}
	if err := t.commit(); err != nil {
		t.rollback()
		m.logger.Warn("operation rolled back", "op", op, "error", err)
		return nil, fmt.Errorf("market.%s: %w", op, err)
	}
	return t.events, nil
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txn) onUndo(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txn) emit(kind string, payload any) {
	t.events = append(t.events, event{kind: kind, payload: payload})
}

// ── Frames ────────────────────────────────────────────────────────────────────

// touchFrame snapshots f before its first mutation in this operation.
func (t *txn) touchFrame(f *domain.Frame) {
	if _, ok := t.frameSeen[f.Key]; ok {
		return
	}
	prev := *f
	t.frameSeen[f.Key] = struct{}{}
	t.frameOrder = append(t.frameOrder, f.Key)
	t.onUndo(func() { *f = prev })
}

// frame returns the frame for key, creating it if absent, ready for mutation.
func (t *txn) frame(key int64) *domain.Frame {
	m := t.m
	if f, ok := m.frames[key]; ok {
		t.touchFrame(f)
		return f
	}
	f := &domain.Frame{Key: key}
	m.frames[key] = f
	m.insertFrameKey(key)
	t.frameSeen[key] = struct{}{}
	t.frameOrder = append(t.frameOrder, key)
	t.onUndo(func() {
		delete(m.frames, key)
		m.removeFrameKey(key)
	})
	return f
}

// advance persists the implicit Open → AwaitingRate transition.
func (t *txn) advance(f *domain.Frame) {
	if s := t.m.effectiveState(f, t.at); s != f.State {
		t.touchFrame(f)
		f.State = s
	}
}

// ── Accounts ──────────────────────────────────────────────────────────────────

func (t *txn) touchAccount(a *domain.Account) {
	if _, ok := t.acctSeen[a.Address]; ok {
		return
	}
	prev := *a
	t.acctSeen[a.Address] = struct{}{}
	t.acctOrder = append(t.acctOrder, a.Address)
	t.onUndo(func() { *a = prev })
}

// account returns addr's account, creating it if absent, ready for mutation.
func (t *txn) account(addr common.Address) *domain.Account {
	m := t.m
	if a, ok := m.accounts[addr]; ok {
		t.touchAccount(a)
		return a
	}
	a := &domain.Account{Address: addr, CreatedAt: t.at}
	m.accounts[addr] = a
	t.acctSeen[addr] = struct{}{}
	t.acctOrder = append(t.acctOrder, addr)
	t.onUndo(func() { delete(m.accounts, addr) })
	return a
}

// ── Lots ──────────────────────────────────────────────────────────────────────

// appendState appends st to the lot's history and returns its index.
func (t *txn) appendState(key domain.LotKey, st domain.LotState) int {
	m := t.m
	lot, ok := m.lots[key]
	if !ok {
		lot = &domain.Lot{FrameKey: key.Frame, Bucket: key.Bucket}
		m.lots[key] = lot
		m.insertBucket(key.Frame, key.Bucket)
		t.onUndo(func() {
			delete(m.lots, key)
			m.removeBucket(key.Frame, key.Bucket)
		})
	}
	n := len(lot.States)
	lot.States = append(lot.States, st)
	t.onUndo(func() { lot.States = lot.States[:n] })
	t.states = append(t.states, domain.LotStateRecord{
		FrameKey: key.Frame,
		Bucket:   key.Bucket,
		Index:    n,
		LotState: st,
	})
	return n
}

// ── Params ────────────────────────────────────────────────────────────────────

func (t *txn) touchParams() *domain.Params {
	if !t.params {
		prev := t.m.params
		t.params = true
		t.onUndo(func() { t.m.params = prev })
	}
	return &t.m.params
}

// ── Transfers ─────────────────────────────────────────────────────────────────

// send queues an asset movement. Zero amounts are dropped.
func (t *txn) send(kind domain.TransferKind, from, to common.Address, amount *big.Int, frameKey int64) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.transfers = append(t.transfers, domain.Transfer{
		ID:        uuid.New(),
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		FrameKey:  frameKey,
		CreatedAt: t.at,
	})
}

// outboundTotal sums queued transfers paid by the engine.
func (t *txn) outboundTotal() *big.Int {
	sum := new(big.Int)
	for i := range t.transfers {
		if !t.transfers[i].Inbound() {
			sum.Add(sum, t.transfers[i].Amount)
		}
	}
	return sum
}

// ── Commit ────────────────────────────────────────────────────────────────────

func (t *txn) changeset() *domain.Changeset {
	m := t.m
	cs := &domain.Changeset{Op: t.op, At: t.at, LotStates: t.states, Transfers: t.transfers}
	for _, key := range t.frameOrder {
		if f, ok := m.frames[key]; ok {
			cs.Frames = append(cs.Frames, *f)
		}
	}
	for _, addr := range t.acctOrder {
		if a, ok := m.accounts[addr]; ok {
			cs.Accounts = append(cs.Accounts, *a)
		}
	}
	if t.params {
		p := m.params
		cs.Params = &p
	}
	return cs
}

func (t *txn) commit() error {
	m := t.m
	cs := t.changeset()
	if cs.IsEmpty() {
		return nil
	}

	jtx, err := m.journal.Begin(t.ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	if err := jtx.Record(t.ctx, cs); err != nil {
		_ = jtx.Rollback()
		return fmt.Errorf("journal record: %w", err)
	}

	done := make([]domain.Transfer, 0, len(t.transfers))
	for _, tr := range t.transfers {
		if err := m.move(t.ctx, tr); err != nil {
			_ = jtx.Rollback()
			m.compensate(t.ctx, done)
			return fmt.Errorf("transfer %s: %w", tr.Kind, err)
		}
		done = append(done, tr)
	}

	if err := jtx.Commit(); err != nil {
		m.compensate(t.ctx, done)
		return fmt.Errorf("journal commit: %w", err)
	}

	m.logger.Info("operation committed",
		"op", t.op,
		"frames", len(cs.Frames),
		"lot_states", len(cs.LotStates),
		"transfers", len(cs.Transfers),
	)
	return nil
}

func (m *Market) move(ctx context.Context, tr domain.Transfer) error {
	if tr.Inbound() {
		return m.asset.TransferFrom(ctx, m.cfg.engine, tr.From, tr.To, tr.Amount)
	}
	return m.asset.Transfer(ctx, tr.From, tr.To, tr.Amount)
}

// compensate reverses completed transfers, newest first. Inbound pulls are
// returned from the engine; outbound payments can only be recovered if the
// recipient has approved the engine.
func (m *Market) compensate(ctx context.Context, done []domain.Transfer) {
	for i := len(done) - 1; i >= 0; i-- {
		tr := done[i]
		var err error
		if tr.Inbound() {
			err = m.asset.Transfer(ctx, tr.To, tr.From, tr.Amount)
		} else {
			err = m.asset.TransferFrom(ctx, m.cfg.engine, tr.To, tr.From, tr.Amount)
		}
		if err != nil {
			m.logger.Error("transfer compensation failed",
				"transfer_id", tr.ID,
				"kind", tr.Kind,
				"from", tr.From,
				"to", tr.To,
				"amount", tr.Amount,
				"error", err,
			)
		}
	}
}

// ── Q96 helpers ───────────────────────────────────────────────────────────────

func addTo(dst *fixedpoint.Q96, x fixedpoint.Q96) error {
	sum, err := dst.Add(x)
	if err != nil {
		return err
	}
	*dst = sum
	return nil
}
