// Package market is the self-assessed price-lot engine. It owns every frame,
// lot and account, and runs the public operations (trade, set-rate, settle,
// referral claims and owner administration) as atomic, serialized units.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/tax"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators
// ──────────────────────────────────────────────────────────────────────────────

// Asset is the fungible accounting asset. Amounts are raw units.
type Asset interface {
	Decimals() uint8
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// RateSource provides the live rate and bucket quantisation.
type RateSource interface {
	CurrentRate(ctx context.Context) (fixedpoint.Q96, error)
	Quantize(r fixedpoint.Q96) fixedpoint.Q96
}

// Journal durably records committed changesets.
type Journal interface {
	Begin(ctx context.Context) (JournalTx, error)
}

// JournalTx is one operation's durable unit.
type JournalTx interface {
	Record(ctx context.Context, cs *domain.Changeset) error
	Commit() error
	Rollback() error
}

// Notifier receives events after an operation commits.
type Notifier interface {
	Publish(kind string, payload any)
}

// Event kinds passed to Notifier.Publish.
const (
	EventLotTraded    = "lot_traded"
	EventRateSet      = "rate_set"
	EventFrameSettled = "frame_settled"
	EventParams       = "params_changed"
)

// Deps bundles the engine's collaborators. Asset and Rates are required.
type Deps struct {
	Asset    Asset
	Rates    RateSource
	Journal  Journal
	Notifier Notifier
	Clock    func() time.Time
	Logger   *slog.Logger
}

type nopJournal struct{}

func (nopJournal) Begin(context.Context) (JournalTx, error)        { return nopJournal{}, nil }
func (nopJournal) Record(context.Context, *domain.Changeset) error { return nil }
func (nopJournal) Commit() error                                   { return nil }
func (nopJournal) Rollback() error                                 { return nil }

type nopNotifier struct{}

func (nopNotifier) Publish(string, any) {}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

type settings struct {
	step     fixedpoint.Q96
	period   int64
	window   int64
	anchor   int64
	skim     fixedpoint.Q96
	owner    common.Address
	engine   common.Address
	decimals uint8
}

// Market is the engine aggregate. All methods are safe for concurrent use;
// mutating operations are serialized.
type Market struct {
	cfg      settings
	asset    Asset
	rates    RateSource
	journal  Journal
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
	taxes    *tax.Calculator

	mu        sync.RWMutex
	params    domain.Params
	frames    map[int64]*domain.Frame
	frameKeys []int64 // ascending
	lots      map[domain.LotKey]*domain.Lot
	buckets   map[int64][]fixedpoint.Q96 // per frame, ascending
	accounts  map[common.Address]*domain.Account
}

// New constructs an empty market.
func New(cfg config.MarketConfig, deps Deps) (*Market, error) {
	if deps.Asset == nil || deps.Rates == nil {
		return nil, errors.New("market.New: asset and rate source are required")
	}
	if cfg.OwnerAddress == (common.Address{}) || cfg.EngineAddress == (common.Address{}) {
		return nil, errors.New("market.New: owner and engine addresses are required")
	}

	step, err := fixedpoint.FromDecimal(cfg.PriceStep)
	if err != nil || step.IsZero() {
		return nil, fmt.Errorf("market.New: price step %s: %w", cfg.PriceStep, domain.ErrInvalidBucket)
	}
	base, err := fixedpoint.Percent(cfg.BaseTaxRatePct)
	if err != nil {
		return nil, fmt.Errorf("market.New: base tax rate: %w", err)
	}
	fee, err := fixedpoint.Percent(cfg.ProtocolFeePct)
	if err != nil || fee.Gt(fixedpoint.One()) {
		return nil, fmt.Errorf("market.New: protocol fee %s: %w", cfg.ProtocolFeePct, domain.ErrInvalidRate)
	}
	skim, err := fixedpoint.Percent(cfg.ReferralSkimPct)
	if err != nil || skim.Gt(fixedpoint.One()) {
		return nil, fmt.Errorf("market.New: referral skim %s: %w", cfg.ReferralSkimPct, domain.ErrInvalidRate)
	}

	period := int64(cfg.Period / time.Second)
	window := int64(cfg.SettlementWindow / time.Second)
	anchor := int64(cfg.TaxAnchor / time.Second)
	if period <= 0 || window < 0 || window > period {
		return nil, fmt.Errorf("market.New: period %s / window %s: %w", cfg.Period, cfg.SettlementWindow, domain.ErrInvalidFrameKey)
	}

	taxes, err := tax.NewCalculator(base, anchor)
	if err != nil {
		return nil, fmt.Errorf("market.New: %w", err)
	}

	m := &Market{
		cfg: settings{
			step:     step,
			period:   period,
			window:   window,
			anchor:   anchor,
			skim:     skim,
			owner:    cfg.OwnerAddress,
			engine:   cfg.EngineAddress,
			decimals: deps.Asset.Decimals(),
		},
		asset:    deps.Asset,
		rates:    deps.Rates,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		logger:   deps.Logger,
		taxes:    taxes,
		params:   domain.Params{BaseTaxRate: base, ProtocolFeeRate: fee},
		frames:   make(map[int64]*domain.Frame),
		lots:     make(map[domain.LotKey]*domain.Lot),
		buckets:  make(map[int64][]fixedpoint.Q96),
		accounts: make(map[common.Address]*domain.Account),
	}
	if m.journal == nil {
		m.journal = nopJournal{}
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Restore rebuilds a market from a persisted snapshot.
func Restore(cfg config.MarketConfig, deps Deps, snap *domain.Snapshot) (*Market, error) {
	m, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return m, nil
	}

	if snap.Params != nil {
		m.params = *snap.Params
		if err := m.taxes.SetBaseRate(m.params.BaseTaxRate); err != nil {
			return nil, fmt.Errorf("market.Restore: %w", err)
		}
	}
	for i := range snap.Frames {
		f := snap.Frames[i]
		m.frames[f.Key] = &f
		m.frameKeys = append(m.frameKeys, f.Key)
	}
	sort.Slice(m.frameKeys, func(i, j int) bool { return m.frameKeys[i] < m.frameKeys[j] })

	states := append([]domain.LotStateRecord(nil), snap.LotStates...)
	sort.Slice(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if a.FrameKey != b.FrameKey {
			return a.FrameKey < b.FrameKey
		}
		if c := a.Bucket.Cmp(b.Bucket); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
	for _, rec := range states {
		key := domain.LotKey{Frame: rec.FrameKey, Bucket: rec.Bucket}
		lot, ok := m.lots[key]
		if !ok {
			lot = &domain.Lot{FrameKey: rec.FrameKey, Bucket: rec.Bucket}
			m.lots[key] = lot
			m.insertBucket(rec.FrameKey, rec.Bucket)
		}
		if rec.Index != len(lot.States) {
			return nil, fmt.Errorf("market.Restore: lot %d/%s: history gap at index %d", rec.FrameKey, rec.Bucket, rec.Index)
		}
		lot.States = append(lot.States, rec.LotState)
	}

	for i := range snap.Accounts {
		a := snap.Accounts[i]
		m.accounts[a.Address] = &a
	}

	m.logger.Info("market restored",
		"frames", len(m.frames),
		"lots", len(m.lots),
		"accounts", len(m.accounts),
		"settled", m.params.SettledCount,
	)
	return m, nil
}

// Owner returns the administrative account.
func (m *Market) Owner() common.Address { return m.cfg.owner }

// Engine returns the account that holds pooled funds.
func (m *Market) Engine() common.Address { return m.cfg.engine }

// FrameKeyFor returns the key of the frame containing ts (Unix seconds).
func (m *Market) FrameKeyFor(ts int64) int64 {
	k := ts - ts%m.cfg.period
	if ts < 0 && ts%m.cfg.period != 0 {
		k -= m.cfg.period
	}
	return k
}

// NextFrameKey returns the earliest frame still open for trading.
func (m *Market) NextFrameKey() int64 {
	return m.FrameKeyFor(m.now()) + m.cfg.period
}

func (m *Market) now() int64 {
	return m.clock().Unix()
}

// insertBucket keeps the per-frame bucket index sorted.
func (m *Market) insertBucket(frameKey int64, bucket fixedpoint.Q96) {
	bs := m.buckets[frameKey]
	i := sort.Search(len(bs), func(i int) bool { return !bs[i].Lt(bucket) })
	bs = append(bs, fixedpoint.Q96{})
	copy(bs[i+1:], bs[i:])
	bs[i] = bucket
	m.buckets[frameKey] = bs
}

func (m *Market) removeBucket(frameKey int64, bucket fixedpoint.Q96) {
	bs := m.buckets[frameKey]
	for i := range bs {
		if bs[i].Eq(bucket) {
			m.buckets[frameKey] = append(bs[:i], bs[i+1:]...)
			break
		}
	}
	if len(m.buckets[frameKey]) == 0 {
		delete(m.buckets, frameKey)
	}
}

func (m *Market) insertFrameKey(key int64) {
	i := sort.Search(len(m.frameKeys), func(i int) bool { return m.frameKeys[i] >= key })
	m.frameKeys = append(m.frameKeys, 0)
	copy(m.frameKeys[i+1:], m.frameKeys[i:])
	m.frameKeys[i] = key
}

func (m *Market) removeFrameKey(key int64) {
	i := sort.Search(len(m.frameKeys), func(i int) bool { return m.frameKeys[i] >= key })
	if i < len(m.frameKeys) && m.frameKeys[i] == key {
		m.frameKeys = append(m.frameKeys[:i], m.frameKeys[i+1:]...)
	}
}

// effectiveState is the state a frame has at now, including the implicit
// Open → AwaitingRate transition that is persisted on the next write.
func (m *Market) effectiveState(f *domain.Frame, now int64) domain.FrameState {
	if f.State == domain.FrameOpen && now >= f.Key {
		return domain.FrameAwaitingRate
	}
	return f.State
}

func (m *Market) requireOwner(caller common.Address) error {
	if caller != m.cfg.owner {
		return domain.ErrNotOwner
	}
	return nil
}
