// Package mock provides in-memory adapters used for paper trading and tests
package mock

import (
	"context"
	"fmt"
	"sync"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// Ledger is an in-memory multi-account token ledger. Its core.ILedger methods
// act on behalf of the owner account; venues and pools settle through Pull/Push.
type Ledger struct {
	owner      string
	balances   map[string]map[core.AssetID]sdkmath.Int
	allowances map[string]map[string]map[core.AssetID]sdkmath.Int // owner -> spender -> asset
	mu         sync.Mutex

	// FailApprove makes the next Approve call fail
	FailApprove error
}

// NewLedger creates a ledger whose core.ILedger calls act for owner
func NewLedger(owner string) *Ledger {
	return &Ledger{
		owner:      owner,
		balances:   make(map[string]map[core.AssetID]sdkmath.Int),
		allowances: make(map[string]map[string]map[core.AssetID]sdkmath.Int),
	}
}

// Owner returns the account the engine acts as
func (l *Ledger) Owner() string {
	return l.owner
}

// Mint credits amount to account without a counterparty
func (l *Ledger) Mint(account string, asset core.AssetID, amount sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, asset, amount)
}

// Burn debits amount from account without a counterparty
func (l *Ledger) Burn(account string, asset core.AssetID, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(account, asset, amount)
}

// BalanceOfAccount returns any account's balance
func (l *Ledger) BalanceOfAccount(account string, asset core.AssetID) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account, asset)
}

func (l *Ledger) BalanceOf(ctx context.Context, asset core.AssetID) (sdkmath.Int, error) {
	return l.BalanceOfAccount(l.owner, asset), nil
}

func (l *Ledger) Approve(ctx context.Context, asset core.AssetID, spender string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.FailApprove; err != nil {
		l.FailApprove = nil
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: negative approval", apperrors.ErrInvalidInput)
	}
	l.setAllowance(l.owner, spender, asset, amount)
	return nil
}

func (l *Ledger) Transfer(ctx context.Context, asset core.AssetID, to string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(l.owner, to, asset, amount)
}

// TransferFrom moves tokens from another account that approved the owner
func (l *Ledger) TransferFrom(ctx context.Context, asset core.AssetID, from, to string, amount sdkmath.Int) error {
	return l.Pull(asset, from, l.owner, to, amount)
}

// Allowance returns what owner allowed spender to pull
func (l *Ledger) Allowance(owner, spender string, asset core.AssetID) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender, asset)
}

// Pull moves amount from owner to recipient using spender's allowance
func (l *Ledger) Pull(asset core.AssetID, owner, spender, recipient string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowance(owner, spender, asset)
	if amount.GT(allowed) {
		return fmt.Errorf("%w: %s allowance %s < %s", apperrors.ErrLedgerRejected, spender, allowed, amount)
	}
	if err := l.move(owner, recipient, asset, amount); err != nil {
		return err
	}
	l.setAllowance(owner, spender, asset, allowed.Sub(amount))
	return nil
}

// Push moves amount from one account to another without an allowance
func (l *Ledger) Push(asset core.AssetID, from, to string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, asset, amount)
}

func (l *Ledger) move(from, to string, asset core.AssetID, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: negative transfer", apperrors.ErrInvalidInput)
	}
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	l.credit(to, asset, amount)
	return nil
}

func (l *Ledger) balance(account string, asset core.AssetID) sdkmath.Int {
	if b, ok := l.balances[account][asset]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) credit(account string, asset core.AssetID, amount sdkmath.Int) {
	byAsset, ok := l.balances[account]
	if !ok {
		byAsset = make(map[core.AssetID]sdkmath.Int)
		l.balances[account] = byAsset
	}
	byAsset[asset] = l.balance(account, asset).Add(amount)
}

func (l *Ledger) debit(account string, asset core.AssetID, amount sdkmath.Int) error {
	current := l.balance(account, asset)
	if current.LT(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", apperrors.ErrLedgerRejected, account, current, asset, amount)
	}
	byAsset, ok := l.balances[account]
	if !ok {
		byAsset = make(map[core.AssetID]sdkmath.Int)
		l.balances[account] = byAsset
	}
	byAsset[asset] = current.Sub(amount)
	return nil
}

func (l *Ledger) allowance(owner, spender string, asset core.AssetID) sdkmath.Int {
	if a, ok := l.allowances[owner][spender][asset]; ok {
		return a
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) setAllowance(owner, spender string, asset core.AssetID, amount sdkmath.Int) {
	bySpender, ok := l.allowances[owner]
	if !ok {
		bySpender = make(map[string]map[core.AssetID]sdkmath.Int)
		l.allowances[owner] = bySpender
	}
	byAsset, ok := bySpender[spender]
	if !ok {
		byAsset = make(map[core.AssetID]sdkmath.Int)
		bySpender[spender] = byAsset
	}
	byAsset[asset] = amount
}
