package settle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Host is what a hook can do to the bundle that is calling it. Every
// effect joins the running bundle and is undone if the bundle aborts.
type Host interface {
	Custody() common.Address
	Reserve(owner, asset common.Address) (*uint256.Int, error)
	// Delta returns the running net delta of asset in this bundle.
	Delta(asset common.Address) *big.Int
	Deposit(owner, asset common.Address, amount *uint256.Int) error
	Withdraw(owner, asset common.Address, amount *uint256.Int) error
}

type hostKey struct{}

func withHost(ctx context.Context, h Host) context.Context {
	return context.WithValue(ctx, hostKey{}, h)
}

// HostFrom returns the Host of the bundle invoking the current hook.
func HostFrom(ctx context.Context) (Host, bool) {
	h, ok := ctx.Value(hostKey{}).(Host)
	return h, ok
}
