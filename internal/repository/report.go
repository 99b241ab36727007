package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
)

// ──────────────────────────────────────────────────────────────────────────────
// Operator reports over the journal
// ──────────────────────────────────────────────────────────────────────────────

// Summary is the journal-wide picture shown on the operator dashboard. Pool
// figures are Q96 quote-asset amounts; the frame counts use the stored state,
// so a frame past its end that nobody touched still counts as open.
type Summary struct {
	Params          *domain.Params                `json:"params"`
	FramesByState   map[domain.FrameState]int     `json:"frames_by_state"`
	UnsettledPool   fixedpoint.Q96                `json:"unsettled_pool"`
	PendingReferral fixedpoint.Q96                `json:"pending_referral"`
	Accounts        int                           `json:"accounts"`
	LotStates       int                           `json:"lot_states"`
	Transfers       map[domain.TransferKind]Total `json:"transfers"`
}

// Total aggregates transfers of one kind. Amount is in raw asset units.
type Total struct {
	Count  int      `json:"count"`
	Amount *big.Int `json:"amount"`
}

// Summary aggregates the whole journal. Amounts are stored as text, so sums
// are taken here rather than in SQL.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.Summary: %w", err)
	}
	out := &Summary{
		Params:        snap.Params,
		FramesByState: make(map[domain.FrameState]int),
		Accounts:      len(snap.Accounts),
		LotStates:     len(snap.LotStates),
	}
	for i := range snap.Frames {
		f := &snap.Frames[i]
		out.FramesByState[f.State]++
		if f.State == domain.FrameSettled {
			continue
		}
		if out.UnsettledPool, err = out.UnsettledPool.Add(f.RewardPool); err != nil {
			return nil, fmt.Errorf("store.Summary: frame %d pool: %w", f.Key, err)
		}
	}
	for i := range snap.Accounts {
		a := &snap.Accounts[i]
		if out.PendingReferral, err = out.PendingReferral.Add(a.PendingReferralReward); err != nil {
			return nil, fmt.Errorf("store.Summary: account %s: %w", a.Address, err)
		}
	}
	if out.Transfers, err = s.TransferTotals(ctx, 0, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferTotals sums transfers by kind with from ≤ created_at < to. A zero
// bound is open.
func (s *Store) TransferTotals(ctx context.Context, from, to int64) (map[domain.TransferKind]Total, error) {
	var rows []struct {
		Kind   string `db:"kind"`
		Amount string `db:"amount"`
	}
	query := s.db.Rebind(`
		SELECT kind, amount FROM transfers
		WHERE (? = 0 OR created_at >= ?) AND (? = 0 OR created_at < ?)`)
	if err := s.db.SelectContext(ctx, &rows, query, from, from, to, to); err != nil {
		return nil, fmt.Errorf("store.TransferTotals: %w", err)
	}

	out := make(map[domain.TransferKind]Total)
	for _, r := range rows {
		amt, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("store.TransferTotals: bad amount %q", r.Amount)
		}
		k := domain.TransferKind(r.Kind)
		t := out[k]
		if t.Amount == nil {
			t.Amount = new(big.Int)
		}
		t.Count++
		t.Amount.Add(t.Amount, amt)
		out[k] = t
	}
	return out, nil
}

// Transfers returns one page of the transfer log, newest first, optionally
// filtered by kind, with the filtered total.
func (s *Store) Transfers(ctx context.Context, kind domain.TransferKind, limit, offset int) ([]domain.Transfer, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind(`SELECT COUNT(*) FROM transfers WHERE (? = '' OR kind = ?)`), kind, kind); err != nil {
		return nil, 0, fmt.Errorf("store.Transfers count: %w", err)
	}

	var rows []transferRow
	query := s.db.Rebind(`
		SELECT id, kind, from_addr, to_addr, amount, frame_key, created_at
		FROM transfers
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, kind, kind, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("store.Transfers: %w", err)
	}
	out, err := toTransfers(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Accounts returns one page of accounts, oldest first, with the total count.
func (s *Store) Accounts(ctx context.Context, limit, offset int) ([]domain.Account, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM accounts`); err != nil {
		return nil, 0, fmt.Errorf("store.Accounts count: %w", err)
	}
	var accts []domain.Account
	query := s.db.Rebind(`
		SELECT address, referred_by, pending_referral_reward, created_at
		FROM accounts
		ORDER BY created_at ASC, address ASC
		LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &accts, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("store.Accounts: %w", err)
	}
	return accts, total, nil
}

// Account returns one account and the number of accounts it referred.
func (s *Store) Account(ctx context.Context, addr common.Address) (domain.Account, int, error) {
	var a domain.Account
	err := s.db.GetContext(ctx, &a, s.db.Rebind(`
		SELECT address, referred_by, pending_referral_reward, created_at
		FROM accounts WHERE address = ?`), addr)
	if err != nil {
		return domain.Account{}, 0, fmt.Errorf("store.Account %s: %w", addr, notFound(err, domain.ErrAccountNotFound))
	}
	var referred int
	if err := s.db.GetContext(ctx, &referred,
		s.db.Rebind(`SELECT COUNT(*) FROM accounts WHERE referred_by = ?`), addr); err != nil {
		return domain.Account{}, 0, fmt.Errorf("store.Account %s referrals: %w", addr, err)
	}
	return a, referred, nil
}

// notFound maps sql.ErrNoRows to sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
