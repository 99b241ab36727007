package repository_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/rate"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/evetabi/lotmarket/internal/token"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const day = int64(86400)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	engine = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")

	genesis    = int64(19676) * day
	bucket3000 = fixedpoint.FromUint64(3000)
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, config.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := repository.Migrate(ctx, db, "../../migrations"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

type fixture struct {
	ctx    context.Context
	db     *sqlx.DB
	ledger *token.Ledger
	cfg    config.MarketConfig
	deps   market.Deps
	m      *market.Market
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		db:     openTestDB(t),
		ledger: token.NewLedger(common.Address{}, 18),
		now:    genesis,
		cfg: config.MarketConfig{
			PriceStep:       decimal.NewFromInt(100),
			Period:          24 * time.Hour,
			TaxAnchor:       24 * time.Hour,
			BaseTaxRatePct:  decimal.NewFromInt(25),
			ProtocolFeePct:  decimal.NewFromInt(10),
			ReferralSkimPct: decimal.RequireFromString("0.5"),
			OwnerAddress:    owner,
			EngineAddress:   engine,
			AssetDecimals:   18,
		},
	}
	adapter, err := rate.NewAdapter(rate.NewStaticSource(fixedpoint.FromUint64(3050)), fixedpoint.FromUint64(100))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	f.deps = market.Deps{
		Asset:   f.ledger,
		Rates:   adapter,
		Journal: repository.NewJournal(f.db),
		Clock:   func() time.Time { return time.Unix(f.now, 0) },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.m, err = market.New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	for _, a := range []common.Address{alice, bob} {
		amt := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
		if err := f.ledger.Mint(a, amt); err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if err := f.ledger.Approve(a, engine, amt); err != nil {
			t.Fatalf("Approve: %v", err)
		}
	}
	return f
}

func TestLoad_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	snap, err := repository.NewStore(db).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Params != nil || len(snap.Frames) != 0 || len(snap.LotStates) != 0 || len(snap.Accounts) != 0 {
		t.Errorf("Load() on empty db = %+v, want empty snapshot", snap)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	if err := repository.Migrate(context.Background(), db, "../../migrations"); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestJournal_RoundTripThroughRestore(t *testing.T) {
	f := newFixture(t)
	key := genesis + day

	trade := func(payer, referrer common.Address, price uint64) {
		t.Helper()
		_, err := f.m.Trade(f.ctx, payer, domain.TradeRequest{
			FrameKey: key, Bucket: bucket3000, AcquisitionPrice: fixedpoint.FromUint64(price), Referrer: referrer,
		})
		if err != nil {
			t.Fatalf("Trade: %v", err)
		}
	}
	trade(alice, common.Address{}, 40)
	trade(bob, alice, 30)
	trade(bob, common.Address{}, 20)

	f.now = key + day
	if _, err := f.m.SetRate(f.ctx, alice, key); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	s, err := f.m.Settle(f.ctx, alice, key)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	store := repository.NewStore(f.db)
	snap, err := store.Load(f.ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Params == nil || snap.Params.SettledCount != 1 {
		t.Fatalf("loaded params = %+v, want settled count 1", snap.Params)
	}
	if len(snap.LotStates) != 3 || len(snap.Accounts) != 2 || len(snap.Frames) != 2 {
		t.Fatalf("loaded %d states %d accounts %d frames, want 3/2/2",
			len(snap.LotStates), len(snap.Accounts), len(snap.Frames))
	}

	restored, err := market.Restore(f.cfg, f.deps, snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, _ := restored.Frame(f.ctx, key)
	if got.State != domain.FrameSettled || got.ClaimedBy != bob || !got.Payout.Eq(s.Payout) || !got.ClosingRate.Eq(s.ClosingRate) {
		t.Errorf("restored frame = %+v, want settled to bob", got)
	}
	next, _ := restored.Frame(f.ctx, key+day)
	if !next.RewardPool.Eq(s.Rollover) {
		t.Errorf("restored rollover pool = %s, want %s", next.RewardPool, s.Rollover)
	}

	states, err := restored.LotStates(f.ctx, key, bucket3000)
	if err != nil || len(states) != 3 {
		t.Fatalf("restored history = %d (%v), want 3", len(states), err)
	}
	if states[0].Owner != alice || states[2].Owner != bob || !states[2].AcquisitionPrice.Eq(fixedpoint.FromUint64(20)) {
		t.Errorf("restored history = %+v", states)
	}

	acct, err := restored.Account(f.ctx, bob)
	if err != nil || acct.ReferredBy != alice {
		t.Errorf("restored bob = %+v (%v), want referred by alice", acct, err)
	}
	want := f.m.PendingReferralRewards(f.ctx, alice)
	if got := restored.PendingReferralRewards(f.ctx, alice); !got.Eq(want) || got.IsZero() {
		t.Errorf("restored pending = %s, want %s", got, want)
	}
}

func TestStore_Transfers(t *testing.T) {
	f := newFixture(t)
	key := genesis + day

	for _, p := range []common.Address{alice, bob} {
		if _, err := f.m.Trade(f.ctx, p, domain.TradeRequest{
			FrameKey: key, Bucket: bucket3000, AcquisitionPrice: fixedpoint.FromUint64(40),
		}); err != nil {
			t.Fatalf("Trade: %v", err)
		}
	}

	store := repository.NewStore(f.db)
	aliceTransfers, err := store.TransfersByAccount(f.ctx, alice, 10, 0)
	if err != nil {
		t.Fatalf("TransfersByAccount: %v", err)
	}
	// alice's charge and her resale refund
	if len(aliceTransfers) != 2 {
		t.Fatalf("alice transfers = %d, want 2", len(aliceTransfers))
	}
	kinds := map[domain.TransferKind]*big.Int{}
	for _, tr := range aliceTransfers {
		kinds[tr.Kind] = tr.Amount
	}
	refund, ok := kinds[domain.TransferResaleRefund]
	if !ok || refund.Cmp(new(big.Int).Mul(big.NewInt(40), big.NewInt(1e18))) != 0 {
		t.Errorf("resale refund = %v, want 40 units", refund)
	}
	if _, ok := kinds[domain.TransferTradeCharge]; !ok {
		t.Error("alice's trade charge missing")
	}

	byFrame, err := store.TransfersByFrame(f.ctx, key)
	if err != nil {
		t.Fatalf("TransfersByFrame: %v", err)
	}
	if len(byFrame) != 3 {
		t.Errorf("frame transfers = %d, want 3", len(byFrame))
	}
	if page, _ := store.TransfersByAccount(f.ctx, alice, 1, 1); len(page) != 1 {
		t.Errorf("paged transfers = %d, want 1", len(page))
	}
}
