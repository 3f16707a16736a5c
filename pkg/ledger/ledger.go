package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

var (
	ErrBundleChangeNetNegative = errors.New("bundle change net negative")
	ErrAmountOverflow          = errors.New("ledger: amount overflow")
)

// NetNegativeError reports an asset whose running delta went below zero at
// settle time.
type NetNegativeError struct {
	Asset common.Address
	Delta *big.Int
}

func (e *NetNegativeError) Error() string {
	return fmt.Sprintf("bundle change net negative: asset %s delta %s", e.Asset.Hex(), e.Delta)
}

func (e *NetNegativeError) Is(target error) bool { return target == ErrBundleChangeNetNegative }

// FeeTable accumulates saved amounts per asset across bundles.
type FeeTable interface {
	AddSavedFees(asset common.Address, amount *uint256.Int) error
}

// Ledger couples the net-delta bookkeeping with the physical movements
// against the venue. Custody is the address holding taken funds.
type Ledger struct {
	deltas  *Deltas
	fees    FeeTable
	venue   venue.Venue
	custody common.Address
}

func New(deltas *Deltas, fees FeeTable, v venue.Venue, custody common.Address) *Ledger {
	return &Ledger{deltas: deltas, fees: fees, venue: v, custody: custody}
}

func (l *Ledger) Deltas() *Deltas { return l.deltas }

// RecordTake withdraws amount of asset from the venue into custody and adds
// it to the asset's delta.
func (l *Ledger) RecordTake(asset common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := l.venue.Withdraw(asset, l.custody, amount); err != nil {
		return fmt.Errorf("take %s of %s: %w", amount.Dec(), asset.Hex(), err)
	}
	l.deltas.Add(asset, amount)
	return nil
}

// RecordSaveAndSettle removes save+settle from the asset's delta, failing
// with *NetNegativeError if that leaves it negative. Save is booked as
// fees, settle is paid back into the venue.
func (l *Ledger) RecordSaveAndSettle(asset common.Address, save, settle *uint256.Int) error {
	total, overflow := new(uint256.Int).AddOverflow(save, settle)
	if overflow {
		return fmt.Errorf("%w: save %s + settle %s", ErrAmountOverflow, save.Dec(), settle.Dec())
	}
	if delta := l.deltas.Sub(asset, total); delta.Sign() < 0 {
		return &NetNegativeError{Asset: asset, Delta: delta}
	}

	if !save.IsZero() {
		if err := l.fees.AddSavedFees(asset, save); err != nil {
			return fmt.Errorf("save fees for %s: %w", asset.Hex(), err)
		}
	}
	if !settle.IsZero() {
		if err := l.venue.Deposit(asset, settle); err != nil {
			return fmt.Errorf("settle %s of %s: %w", settle.Dec(), asset.Hex(), err)
		}
	}
	return nil
}

// SettleRewardTo credits amount of asset to recipient inside the venue. It
// does not touch the deltas; the caller accounts for the amount.
func (l *Ledger) SettleRewardTo(recipient, asset common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := l.venue.DepositFor(recipient, asset, amount); err != nil {
		return fmt.Errorf("reward %s of %s to %s: %w", amount.Dec(), asset.Hex(), recipient.Hex(), err)
	}
	return nil
}
