// Package reserve keeps per-owner internal balances and settles order legs
// either against them or through external token transfers.
package reserve

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/ledger"
	"github.com/uhyunpark/bundlesettle/pkg/token"
)

var (
	ErrReserveUnderflow = errors.New("reserve underflow")
	ErrReserveOverflow  = errors.New("reserve overflow")
)

// UnderflowError reports a debit larger than the owner's reserve.
type UnderflowError struct {
	Owner  common.Address
	Asset  common.Address
	Have   *uint256.Int
	Amount *uint256.Int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("reserve underflow: %s holds %s of %s, debit %s", e.Owner.Hex(), e.Have.Dec(), e.Asset.Hex(), e.Amount.Dec())
}

func (e *UnderflowError) Is(target error) bool { return target == ErrReserveUnderflow }

// Store is the persistent (owner, asset) balance table. storage.Tx
// implements it.
type Store interface {
	Reserve(owner, asset common.Address) (*uint256.Int, error)
	SetReserve(owner, asset common.Address, v *uint256.Int) error
}

type Reserves struct {
	store   Store
	deltas  *ledger.Deltas
	tokens  token.Transferer
	custody common.Address
}

// New builds a Reserves view. deltas may be nil outside a bundle; order
// settlement requires it.
func New(store Store, deltas *ledger.Deltas, tokens token.Transferer, custody common.Address) *Reserves {
	return &Reserves{store: store, deltas: deltas, tokens: tokens, custody: custody}
}

func (r *Reserves) Balance(owner, asset common.Address) (*uint256.Int, error) {
	return r.store.Reserve(owner, asset)
}

func (r *Reserves) Credit(owner, asset common.Address, amount *uint256.Int) error {
	have, err := r.store.Reserve(owner, asset)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(have, amount)
	if overflow {
		return fmt.Errorf("%w: %s of %s", ErrReserveOverflow, owner.Hex(), asset.Hex())
	}
	return r.store.SetReserve(owner, asset, next)
}

func (r *Reserves) Debit(owner, asset common.Address, amount *uint256.Int) error {
	have, err := r.store.Reserve(owner, asset)
	if err != nil {
		return err
	}
	if have.Lt(amount) {
		return &UnderflowError{Owner: owner, Asset: asset, Have: have, Amount: amount.Clone()}
	}
	return r.store.SetReserve(owner, asset, new(uint256.Int).Sub(have, amount))
}

// SettleOrderIn collects amount of asset from payer, from its reserve when
// useInternal is set and by token transfer into custody otherwise.
func (r *Reserves) SettleOrderIn(payer, asset common.Address, amount *uint256.Int, useInternal bool) error {
	r.deltas.Add(asset, amount)
	if useInternal {
		return r.Debit(payer, asset, amount)
	}
	if err := r.tokens.TransferFrom(payer, r.custody, asset, amount); err != nil {
		return fmt.Errorf("collect %s of %s from %s: %w", amount.Dec(), asset.Hex(), payer.Hex(), err)
	}
	return nil
}

// SettleOrderOut pays amount of asset to payee, into its reserve when
// useInternal is set and by token transfer out of custody otherwise.
func (r *Reserves) SettleOrderOut(payee, asset common.Address, amount *uint256.Int, useInternal bool) error {
	r.deltas.Sub(asset, amount)
	if useInternal {
		return r.Credit(payee, asset, amount)
	}
	if err := r.tokens.Transfer(payee, asset, amount); err != nil {
		return fmt.Errorf("pay %s of %s to %s: %w", amount.Dec(), asset.Hex(), payee.Hex(), err)
	}
	return nil
}

// Deposit pulls tokens from owner into custody and credits its reserve.
// It does not touch bundle deltas.
func (r *Reserves) Deposit(owner, asset common.Address, amount *uint256.Int) error {
	if err := r.tokens.TransferFrom(owner, r.custody, asset, amount); err != nil {
		return fmt.Errorf("deposit %s of %s from %s: %w", amount.Dec(), asset.Hex(), owner.Hex(), err)
	}
	return r.Credit(owner, asset, amount)
}

// Withdraw debits owner's reserve and sends the tokens out of custody.
func (r *Reserves) Withdraw(owner, asset common.Address, amount *uint256.Int) error {
	if err := r.Debit(owner, asset, amount); err != nil {
		return err
	}
	if err := r.tokens.Transfer(owner, asset, amount); err != nil {
		return fmt.Errorf("withdraw %s of %s to %s: %w", amount.Dec(), asset.Hex(), owner.Hex(), err)
	}
	return nil
}
