// Package token implements an in-process fungible asset ledger with ERC20
// approve/transferFrom/transfer/balanceOf semantics. It backs the market in
// development and in tests; production deployments plug in their own asset.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
)

// Hook is invoked after every successful movement, outside the ledger lock.
// It models a recipient callback and may call back into the market.
type Hook func(ctx context.Context, from, to common.Address, amount *big.Int)

// Ledger is a thread-safe balance and allowance book.
type Ledger struct {
	address  common.Address
	decimals uint8

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
	hook       Hook
}

// NewLedger returns an empty ledger.
func NewLedger(address common.Address, decimals uint8) *Ledger {
	return &Ledger{
		address:    address,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

// Address returns the asset's identifying address.
func (l *Ledger) Address() common.Address { return l.address }

// Decimals returns the number of raw-unit decimals.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// SetHook installs h; nil removes it.
func (l *Ledger) SetHook(h Hook) {
	l.mu.Lock()
	l.hook = h
	l.mu.Unlock()
}

// Mint credits amount to to.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("token.Mint: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	l.mu.Unlock()
	slog.Debug("token minted", "to", to, "amount", amount)
	return nil
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// BalanceOf returns owner's balance.
func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(owner), nil
}

// Approve sets spender's allowance over owner's funds.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token.Approve: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(owner, spender), nil
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("token.Transfer: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	if l.balanceLocked(from).Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("token.Transfer: %s: %w", from, domain.ErrInsufficientBalance)
	}
	l.debit(from, amount)
	l.credit(to, amount)
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		hook(ctx, from, to, amount)
	}
	return nil
}

// TransferFrom moves amount from from to to on spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("token.TransferFrom: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	allowance := l.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("token.TransferFrom: %s → %s: %w", from, spender, domain.ErrInsufficientAllowance)
	}
	if l.balanceLocked(from).Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("token.TransferFrom: %s: %w", from, domain.ErrInsufficientBalance)
	}
	l.allowances[from][spender] = allowance.Sub(allowance, amount)
	l.debit(from, amount)
	l.credit(to, amount)
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		hook(ctx, from, to, amount)
	}
	return nil
}

// ── locked helpers ────────────────────────────────────────────────────────────

func (l *Ledger) balanceLocked(owner common.Address) *big.Int {
	if b, ok := l.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (l *Ledger) credit(to common.Address, amount *big.Int) {
	b, ok := l.balances[to]
	if !ok {
		b = new(big.Int)
		l.balances[to] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(from common.Address, amount *big.Int) {
	b := l.balances[from]
	b.Sub(b, amount)
}
