package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/jmoiron/sqlx"
)

// Journal writes each committed market operation to the database inside one
// SQL transaction. It implements market.Journal.
type Journal struct {
	db *sqlx.DB
}

// NewJournal creates a new Journal.
func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

// Begin opens the SQL transaction for one market operation.
func (j *Journal) Begin(ctx context.Context) (market.JournalTx, error) {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("journal.Begin: %w", err)
	}
	return &journalTx{tx: tx}, nil
}

type journalTx struct {
	tx *sqlx.Tx
}

func (t *journalTx) Commit() error   { return t.tx.Commit() }
func (t *journalTx) Rollback() error { return t.tx.Rollback() }

// ── Statements ────────────────────────────────────────────────────────────────

const upsertFrame = `
	INSERT INTO frames
		(frame_key, state, closing_rate, rate_set_at, rate_overridden, reward_pool,
		 referral_fee_accrued, claimed_by, winning_bucket, payout, protocol_fee,
		 rollover, settled_at)
	VALUES
		(:frame_key, :state, :closing_rate, :rate_set_at, :rate_overridden, :reward_pool,
		 :referral_fee_accrued, :claimed_by, :winning_bucket, :payout, :protocol_fee,
		 :rollover, :settled_at)
	ON CONFLICT (frame_key) DO UPDATE SET
		state                = excluded.state,
		closing_rate         = excluded.closing_rate,
		rate_set_at          = excluded.rate_set_at,
		rate_overridden      = excluded.rate_overridden,
		reward_pool          = excluded.reward_pool,
		referral_fee_accrued = excluded.referral_fee_accrued,
		claimed_by           = excluded.claimed_by,
		winning_bucket       = excluded.winning_bucket,
		payout               = excluded.payout,
		protocol_fee         = excluded.protocol_fee,
		rollover             = excluded.rollover,
		settled_at           = excluded.settled_at`

const insertLotState = `
	INSERT INTO lot_states
		(frame_key, bucket, seq, ts, owner, acquisition_price, tax_charged, tax_refunded)
	VALUES
		(:frame_key, :bucket, :seq, :ts, :owner, :acquisition_price, :tax_charged, :tax_refunded)`

const upsertAccount = `
	INSERT INTO accounts
		(address, referred_by, pending_referral_reward, created_at)
	VALUES
		(:address, :referred_by, :pending_referral_reward, :created_at)
	ON CONFLICT (address) DO UPDATE SET
		referred_by             = excluded.referred_by,
		pending_referral_reward = excluded.pending_referral_reward`

const insertTransfer = `
	INSERT INTO transfers
		(id, kind, from_addr, to_addr, amount, frame_key, created_at)
	VALUES
		(?, ?, ?, ?, ?, ?, ?)`

const upsertParams = `
	INSERT INTO market_params
		(id, base_tax_rate, protocol_fee_rate, settled_count, updated_at)
	VALUES
		(1, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		base_tax_rate     = excluded.base_tax_rate,
		protocol_fee_rate = excluded.protocol_fee_rate,
		settled_count     = excluded.settled_count,
		updated_at        = excluded.updated_at`

// Record writes every row the changeset touched. Lot states are append-only;
// frames, accounts and params are upserted to their latest values.
func (t *journalTx) Record(ctx context.Context, cs *domain.Changeset) error {
	for i := range cs.Frames {
		if _, err := t.tx.NamedExecContext(ctx, upsertFrame, &cs.Frames[i]); err != nil {
			return fmt.Errorf("journal.Record frame %d: %w", cs.Frames[i].Key, err)
		}
	}
	for i := range cs.LotStates {
		rec := &cs.LotStates[i]
		if _, err := t.tx.NamedExecContext(ctx, insertLotState, rec); err != nil {
			return fmt.Errorf("journal.Record lot %d/%s#%d: %w", rec.FrameKey, rec.Bucket, rec.Index, err)
		}
	}
	for i := range cs.Accounts {
		if _, err := t.tx.NamedExecContext(ctx, upsertAccount, &cs.Accounts[i]); err != nil {
			return fmt.Errorf("journal.Record account %s: %w", cs.Accounts[i].Address, err)
		}
	}
	for _, tr := range cs.Transfers {
		_, err := t.tx.ExecContext(ctx, t.tx.Rebind(insertTransfer),
			tr.ID, string(tr.Kind), tr.From, tr.To, tr.Amount.String(), tr.FrameKey, tr.CreatedAt)
		if err != nil {
			return fmt.Errorf("journal.Record transfer %s: %w", tr.ID, err)
		}
	}
	if p := cs.Params; p != nil {
		_, err := t.tx.ExecContext(ctx, t.tx.Rebind(upsertParams),
			p.BaseTaxRate, p.ProtocolFeeRate, int64(p.SettledCount), cs.At)
		if err != nil {
			return fmt.Errorf("journal.Record params: %w", err)
		}
	}
	return nil
}
