// Package ledger tracks per-asset net flows of a bundle and settles them
// against the venue.
package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deltas maps assets to a signed running value held as a two's complement
// 256-bit word. Lifetime is one bundle.
type Deltas struct {
	m map[common.Address]*uint256.Int
}

func NewDeltas() *Deltas {
	return &Deltas{m: make(map[common.Address]*uint256.Int)}
}

// Add increases the tracked value of asset.
func (d *Deltas) Add(asset common.Address, amount *uint256.Int) {
	v := d.slot(asset)
	v.Add(v, amount)
}

// Sub decreases the tracked value of asset and returns the result.
func (d *Deltas) Sub(asset common.Address, amount *uint256.Int) *big.Int {
	v := d.slot(asset)
	v.Sub(v, amount)
	return signed(v)
}

// Get returns the signed value of asset.
func (d *Deltas) Get(asset common.Address) *big.Int {
	v, ok := d.m[asset]
	if !ok {
		return new(big.Int)
	}
	return signed(v)
}

// Negative reports whether asset's value is below zero.
func (d *Deltas) Negative(asset common.Address) bool {
	v, ok := d.m[asset]
	return ok && v.Sign() < 0
}

// Assets lists every touched asset in address order.
func (d *Deltas) Assets() []common.Address {
	out := make([]common.Address, 0, len(d.m))
	for a := range d.m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// CheckNonNegative returns a *NetNegativeError for the first negative asset
// in address order.
func (d *Deltas) CheckNonNegative() error {
	for _, a := range d.Assets() {
		if d.Negative(a) {
			return &NetNegativeError{Asset: a, Delta: d.Get(a)}
		}
	}
	return nil
}

func (d *Deltas) slot(asset common.Address) *uint256.Int {
	v, ok := d.m[asset]
	if !ok {
		v = new(uint256.Int)
		d.m[asset] = v
	}
	return v
}

func signed(v *uint256.Int) *big.Int {
	if v.Sign() >= 0 {
		return v.ToBig()
	}
	abs := new(uint256.Int).Neg(v)
	return new(big.Int).Neg(abs.ToBig())
}
