package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type balanceKey struct{ holder, asset common.Address }

type allowanceKey struct{ owner, spender, asset common.Address }

// Bank is an in-memory multi-asset token ledger. While a snapshot is live
// every mutation is journaled so the caller can revert it.
type Bank struct {
	mu         sync.Mutex
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	journal []func()
	snaps   []int // journal length at each live snapshot, outermost first
}

func NewBank() *Bank {
	return &Bank{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Mint credits holder with amount of asset out of thin air.
func (b *Bank) Mint(holder, asset common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := balanceKey{holder, asset}
	b.setBalance(k, new(uint256.Int).Add(b.balance(k), amount))
}

func (b *Bank) BalanceOf(holder, asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(balanceKey{holder, asset}).Clone()
}

// Approve sets the amount spender may pull from owner.
func (b *Bank) Approve(owner, spender, asset common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setAllowance(allowanceKey{owner, spender, asset}, amount.Clone())
}

func (b *Bank) Allowance(owner, spender, asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowance(allowanceKey{owner, spender, asset}).Clone()
}

// Move transfers amount of asset from one holder to another.
func (b *Bank) Move(from, to, asset common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, asset, amount)
}

// Account returns the Transferer view of spender.
func (b *Bank) Account(spender common.Address) Transferer {
	return &account{bank: b, self: spender}
}

// Snapshot opens a nested snapshot and returns its id.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, len(b.journal))
	return len(b.snaps) - 1
}

// RevertToSnapshot undoes every change made since id and closes id along
// with any snapshot opened after it.
func (b *Bank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 || id >= len(b.snaps) {
		return
	}
	mark := b.snaps[id]
	for i := len(b.journal) - 1; i >= mark; i-- {
		b.journal[i]()
	}
	b.journal = b.journal[:mark]
	b.snaps = b.snaps[:id]
}

// DiscardSnapshot keeps the changes made since id and closes it. Once the
// outermost snapshot is gone the journal is dropped.
func (b *Bank) DiscardSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 || id >= len(b.snaps) {
		return
	}
	b.snaps = b.snaps[:id]
	if len(b.snaps) == 0 {
		clear(b.journal)
		b.journal = b.journal[:0]
	}
}

// JournalLen returns the number of undo entries held for live snapshots.
func (b *Bank) JournalLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.journal)
}

func (b *Bank) record(undo func()) {
	if len(b.snaps) > 0 {
		b.journal = append(b.journal, undo)
	}
}

func (b *Bank) move(from, to, asset common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fk, tk := balanceKey{from, asset}, balanceKey{to, asset}
	have := b.balance(fk)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), have.Dec(), asset.Hex(), amount.Dec())
	}
	b.setBalance(fk, new(uint256.Int).Sub(have, amount))
	b.setBalance(tk, new(uint256.Int).Add(b.balance(tk), amount))
	return nil
}

func (b *Bank) balance(k balanceKey) *uint256.Int {
	if v, ok := b.balances[k]; ok {
		return v
	}
	return new(uint256.Int)
}

func (b *Bank) allowance(k allowanceKey) *uint256.Int {
	if v, ok := b.allowances[k]; ok {
		return v
	}
	return new(uint256.Int)
}

func (b *Bank) setBalance(k balanceKey, v *uint256.Int) {
	prev, had := b.balances[k]
	b.record(func() {
		if had {
			b.balances[k] = prev
		} else {
			delete(b.balances, k)
		}
	})
	b.balances[k] = v
}

func (b *Bank) setAllowance(k allowanceKey, v *uint256.Int) {
	prev, had := b.allowances[k]
	b.record(func() {
		if had {
			b.allowances[k] = prev
		} else {
			delete(b.allowances, k)
		}
	})
	b.allowances[k] = v
}

type account struct {
	bank *Bank
	self common.Address
}

func (a *account) TransferFrom(owner, recipient, asset common.Address, amount *uint256.Int) error {
	b := a.bank
	b.mu.Lock()
	defer b.mu.Unlock()
	if owner != a.self {
		k := allowanceKey{owner, a.self, asset}
		allowed := b.allowance(k)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allows %s %s of %s, needs %s", ErrInsufficientAllowance, owner.Hex(), a.self.Hex(), allowed.Dec(), asset.Hex(), amount.Dec())
		}
		if err := b.move(owner, recipient, asset, amount); err != nil {
			return err
		}
		b.setAllowance(k, new(uint256.Int).Sub(allowed, amount))
		return nil
	}
	return b.move(owner, recipient, asset, amount)
}

func (a *account) Transfer(recipient, asset common.Address, amount *uint256.Int) error {
	a.bank.mu.Lock()
	defer a.bank.mu.Unlock()
	return a.bank.move(a.self, recipient, asset, amount)
}

var _ Journal = (*Bank)(nil)
