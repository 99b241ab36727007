package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store reads persisted market state.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Load returns everything needed to rebuild the market. An empty database
// yields an empty snapshot with nil Params.
func (s *Store) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}

	var p domain.Params
	err := s.db.GetContext(ctx, &p,
		`SELECT base_tax_rate, protocol_fee_rate, settled_count FROM market_params WHERE id = 1`)
	switch {
	case err == nil:
		snap.Params = &p
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("store.Load params: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Frames, `
		SELECT frame_key, state, closing_rate, rate_set_at, rate_overridden, reward_pool,
		       referral_fee_accrued, claimed_by, winning_bucket, payout, protocol_fee,
		       rollover, settled_at
		FROM frames ORDER BY frame_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("store.Load frames: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.LotStates, `
		SELECT frame_key, bucket, seq, ts, owner, acquisition_price, tax_charged, tax_refunded
		FROM lot_states ORDER BY frame_key ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("store.Load lot states: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Accounts, `
		SELECT address, referred_by, pending_referral_reward, created_at
		FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("store.Load accounts: %w", err)
	}
	return snap, nil
}

// transferRow is the flat database form of a domain.Transfer.
type transferRow struct {
	ID        uuid.UUID      `db:"id"`
	Kind      string         `db:"kind"`
	From      common.Address `db:"from_addr"`
	To        common.Address `db:"to_addr"`
	Amount    string         `db:"amount"`
	FrameKey  int64          `db:"frame_key"`
	CreatedAt int64          `db:"created_at"`
}

func (r *transferRow) toDomain() (domain.Transfer, error) {
	amt, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return domain.Transfer{}, fmt.Errorf("transfer %s: bad amount %q", r.ID, r.Amount)
	}
	return domain.Transfer{
		ID:        r.ID,
		Kind:      domain.TransferKind(r.Kind),
		From:      r.From,
		To:        r.To,
		Amount:    amt,
		FrameKey:  r.FrameKey,
		CreatedAt: r.CreatedAt,
	}, nil
}

// TransfersByAccount returns transfers to or from addr, newest first.
func (s *Store) TransfersByAccount(ctx context.Context, addr common.Address, limit, offset int) ([]domain.Transfer, error) {
	var rows []transferRow
	query := s.db.Rebind(`
		SELECT id, kind, from_addr, to_addr, amount, frame_key, created_at
		FROM transfers
		WHERE from_addr = ? OR to_addr = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, addr, addr, limit, offset); err != nil {
		return nil, fmt.Errorf("store.TransfersByAccount: %w", err)
	}
	return toTransfers(rows)
}

// TransfersByFrame returns the transfers attributed to one frame, oldest first.
func (s *Store) TransfersByFrame(ctx context.Context, frameKey int64) ([]domain.Transfer, error) {
	var rows []transferRow
	query := s.db.Rebind(`
		SELECT id, kind, from_addr, to_addr, amount, frame_key, created_at
		FROM transfers
		WHERE frame_key = ?
		ORDER BY created_at ASC, id ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, frameKey); err != nil {
		return nil, fmt.Errorf("store.TransfersByFrame: %w", err)
	}
	return toTransfers(rows)
}

func toTransfers(rows []transferRow) ([]domain.Transfer, error) {
	out := make([]domain.Transfer, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
