// Package venue defines the liquidity venue a bundle settles against and an
// in-memory pool implementing it.
package venue

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/token"
)

var ErrInsufficientLiquidity = errors.New("venue: insufficient liquidity")

// Venue is the liquidity source and sink of a bundle.
type Venue interface {
	// Withdraw sends amount of asset from the venue to to.
	Withdraw(asset, to common.Address, amount *uint256.Int) error
	// Deposit pulls amount of asset from the caller's custody into the venue
	// and then notifies the venue of the payment.
	Deposit(asset common.Address, amount *uint256.Int) error
	// DepositFor pays amount of asset into the venue and credits it to
	// recipient.
	DepositFor(recipient, asset common.Address, amount *uint256.Int) error
}

// Pool is a Venue whose liquidity lives in a token.Bank under its own
// address. Deposits are pulled from a single custodian.
type Pool struct {
	self      common.Address
	custodian common.Address
	bank      *token.Bank
	claims    *token.Bank
	paid      *token.Bank
	snaps     [][2]int
}

func NewPool(self, custodian common.Address, bank *token.Bank) *Pool {
	return &Pool{
		self:      self,
		custodian: custodian,
		bank:      bank,
		claims:    token.NewBank(),
		paid:      token.NewBank(),
	}
}

func (p *Pool) Address() common.Address { return p.self }

func (p *Pool) Withdraw(asset, to common.Address, amount *uint256.Int) error {
	if err := p.bank.Move(p.self, to, asset, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
		}
		return err
	}
	return nil
}

func (p *Pool) Deposit(asset common.Address, amount *uint256.Int) error {
	if err := p.bank.Move(p.custodian, p.self, asset, amount); err != nil {
		return fmt.Errorf("venue: pull deposit: %w", err)
	}
	p.paid.Mint(p.custodian, asset, amount)
	return nil
}

func (p *Pool) DepositFor(recipient, asset common.Address, amount *uint256.Int) error {
	if err := p.bank.Move(p.custodian, p.self, asset, amount); err != nil {
		return fmt.Errorf("venue: pull deposit for %s: %w", recipient.Hex(), err)
	}
	p.claims.Mint(recipient, asset, amount)
	return nil
}

// Liquidity returns the pool's holdings of asset.
func (p *Pool) Liquidity(asset common.Address) *uint256.Int { return p.bank.BalanceOf(p.self, asset) }

// ClaimOf returns what DepositFor has credited to recipient.
func (p *Pool) ClaimOf(recipient, asset common.Address) *uint256.Int {
	return p.claims.BalanceOf(recipient, asset)
}

// Paid returns the total notified through Deposit for asset.
func (p *Pool) Paid(asset common.Address) *uint256.Int { return p.paid.BalanceOf(p.custodian, asset) }

// Snapshot covers the pool's own books. The shared token bank is journaled
// separately.
func (p *Pool) Snapshot() int {
	p.snaps = append(p.snaps, [2]int{p.claims.Snapshot(), p.paid.Snapshot()})
	return len(p.snaps) - 1
}

func (p *Pool) RevertToSnapshot(id int) {
	s := p.snaps[id]
	p.claims.RevertToSnapshot(s[0])
	p.paid.RevertToSnapshot(s[1])
	p.snaps = p.snaps[:id]
}

func (p *Pool) DiscardSnapshot(id int) {
	s := p.snaps[id]
	p.claims.DiscardSnapshot(s[0])
	p.paid.DiscardSnapshot(s[1])
	p.snaps = p.snaps[:id]
}

var (
	_ Venue         = (*Pool)(nil)
	_ token.Journal = (*Pool)(nil)
)
