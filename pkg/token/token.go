// Package token is the token-transfer boundary of the settlement plus an
// in-memory journaled bank that implements it.
package token

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Transferer moves tokens on behalf of one spender. Both calls fail loudly
// on insufficient balance or allowance.
type Transferer interface {
	// TransferFrom moves amount of asset from owner to recipient using the
	// spender's allowance.
	TransferFrom(owner, recipient, asset common.Address, amount *uint256.Int) error
	// Transfer moves amount of asset from the spender to recipient.
	Transfer(recipient, asset common.Address, amount *uint256.Int) error
}

// Journal is implemented by collaborators whose effects can be rolled back
// when a settlement unit aborts.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}
