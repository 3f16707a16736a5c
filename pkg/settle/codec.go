package settle

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/arena"
	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/wire"
)

// Bundle wire layout, big-endian:
//
//	bundle := u16 nAssets asset* u16 nOrders order* u16 nRewards reward*
//	asset  := addr20 save:u128 take:u128 settle:u128
//	order  := flags:u8 assetIn:u16 assetOut:u16 quantityIn:u128 quantityOut:u128
//	          from:addr20 [recipient:addr20] [hook record]
//	reward := assetIndex:u16 recipient:addr20 amount:u128
const (
	FlagUseInternal  uint8 = 0x01
	FlagHasRecipient uint8 = 0x02
	FlagHasHook      uint8 = 0x04

	flagMask = FlagUseInternal | FlagHasRecipient | FlagHasHook
)

// decodedOrder is an order read off the wire with its hook copied into the
// arena.
type decodedOrder struct {
	Order
	hook hook.Descriptor
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformedBundle, what, err)
}

func decodeAssets(r *wire.Reader) ([]Asset, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, malformed("asset count", err)
	}
	assets := make([]Asset, n)
	for i := range assets {
		a := &assets[i]
		if a.Addr, err = r.Address(); err != nil {
			return nil, malformed(fmt.Sprintf("asset %d address", i), err)
		}
		if a.Save, err = r.Uint128(); err != nil {
			return nil, malformed(fmt.Sprintf("asset %d save", i), err)
		}
		if a.Take, err = r.Uint128(); err != nil {
			return nil, malformed(fmt.Sprintf("asset %d take", i), err)
		}
		if a.Settle, err = r.Uint128(); err != nil {
			return nil, malformed(fmt.Sprintf("asset %d settle", i), err)
		}
	}
	return assets, nil
}

// decodeOrder reads one order. The order hash covers the fixed fields as
// they appear on the wire followed by the hook content hash.
func decodeOrder(r *wire.Reader, nAssets int, a *arena.Arena) (*decodedOrder, error) {
	start := r.Offset()
	flags, err := r.Uint8()
	if err != nil {
		return nil, malformed("order flags", err)
	}
	if flags&^flagMask != 0 {
		return nil, fmt.Errorf("%w: unknown order flags 0x%02x", ErrMalformedBundle, flags)
	}

	o := &decodedOrder{}
	o.UseInternal = flags&FlagUseInternal != 0
	if o.AssetIn, err = r.Uint16(); err != nil {
		return nil, malformed("order asset in", err)
	}
	if o.AssetOut, err = r.Uint16(); err != nil {
		return nil, malformed("order asset out", err)
	}
	if int(o.AssetIn) >= nAssets || int(o.AssetOut) >= nAssets {
		return nil, fmt.Errorf("%w: order asset index (%d, %d) outside %d assets", ErrMalformedBundle, o.AssetIn, o.AssetOut, nAssets)
	}
	if o.QuantityIn, err = r.Uint128(); err != nil {
		return nil, malformed("order quantity in", err)
	}
	if o.QuantityOut, err = r.Uint128(); err != nil {
		return nil, malformed("order quantity out", err)
	}
	if o.From, err = r.Address(); err != nil {
		return nil, malformed("order from", err)
	}
	if flags&FlagHasRecipient != 0 {
		rcpt, err := r.Address()
		if err != nil {
			return nil, malformed("order recipient", err)
		}
		o.Recipient = &rcpt
	}
	fixed := r.Slice(start, r.Offset())

	d, contentHash, err := hook.Decode(r, flags&FlagHasHook != 0, a)
	if err != nil {
		return nil, err
	}
	o.hook = d
	o.Hash = crypto.Keccak256Hash(fixed, contentHash[:])
	return o, nil
}

func decodeReward(r *wire.Reader, nAssets int) (Reward, error) {
	var (
		rw  Reward
		err error
	)
	if rw.AssetIndex, err = r.Uint16(); err != nil {
		return rw, malformed("reward asset", err)
	}
	if int(rw.AssetIndex) >= nAssets {
		return rw, fmt.Errorf("%w: reward asset index %d outside %d assets", ErrMalformedBundle, rw.AssetIndex, nAssets)
	}
	if rw.Recipient, err = r.Address(); err != nil {
		return rw, malformed("reward recipient", err)
	}
	if rw.Amount, err = r.Uint128(); err != nil {
		return rw, malformed("reward amount", err)
	}
	return rw, nil
}

// Decode parses a whole bundle without executing it. Hook payloads are
// copied out and order hashes filled in.
func Decode(raw []byte) (*Bundle, error) {
	r := wire.NewReader(raw)
	scratch := arena.New(0)

	assets, err := decodeAssets(r)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Assets: assets}

	n, err := r.Uint16()
	if err != nil {
		return nil, malformed("order count", err)
	}
	for i := 0; i < int(n); i++ {
		o, err := decodeOrder(r, len(assets), scratch)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		if o.hook.Present() {
			o.Hook = &Hook{Callee: o.hook.Callee, Payload: hook.Payload(scratch, o.hook)}
		}
		b.Orders = append(b.Orders, o.Order)
	}

	n, err = r.Uint16()
	if err != nil {
		return nil, malformed("reward count", err)
	}
	for i := 0; i < int(n); i++ {
		rw, err := decodeReward(r, len(assets))
		if err != nil {
			return nil, fmt.Errorf("reward %d: %w", i, err)
		}
		b.Rewards = append(b.Rewards, rw)
	}

	if err := r.Done(); err != nil {
		return nil, malformed("bundle", err)
	}
	return b, nil
}

// Hash is the identity of an encoded bundle.
func Hash(raw []byte) common.Hash { return crypto.Keccak256Hash(raw) }

// Encode produces the wire form of b. Indices are not checked here so that
// malformed bundles can be built deliberately.
func (b *Bundle) Encode() ([]byte, error) {
	if len(b.Assets) > math.MaxUint16 || len(b.Orders) > math.MaxUint16 || len(b.Rewards) > math.MaxUint16 {
		return nil, fmt.Errorf("settle: bundle section exceeds %d entries", math.MaxUint16)
	}
	w := wire.NewWriter(6 + len(b.Assets)*68 + len(b.Orders)*89 + len(b.Rewards)*38)

	w.Uint16(uint16(len(b.Assets)))
	for _, a := range b.Assets {
		w.Address(a.Addr)
		w.Uint128(a.Save)
		w.Uint128(a.Take)
		w.Uint128(a.Settle)
	}

	w.Uint16(uint16(len(b.Orders)))
	for i := range b.Orders {
		o := &b.Orders[i]
		var flags uint8
		if o.UseInternal {
			flags |= FlagUseInternal
		}
		if o.Recipient != nil {
			flags |= FlagHasRecipient
		}
		if o.Hook != nil {
			flags |= FlagHasHook
		}
		w.Uint8(flags)
		w.Uint16(o.AssetIn)
		w.Uint16(o.AssetOut)
		w.Uint128(o.QuantityIn)
		w.Uint128(o.QuantityOut)
		w.Address(o.From)
		if o.Recipient != nil {
			w.Address(*o.Recipient)
		}
		if o.Hook != nil {
			rec, err := hook.Encode(o.Hook.Callee, o.Hook.Payload)
			if err != nil {
				return nil, fmt.Errorf("order %d: %w", i, err)
			}
			w.Raw(rec)
		}
	}

	w.Uint16(uint16(len(b.Rewards)))
	for _, rw := range b.Rewards {
		w.Uint16(rw.AssetIndex)
		w.Address(rw.Recipient)
		w.Uint128(rw.Amount)
	}
	return w.Bytes()
}

// Builder assembles a Bundle fluently.
type Builder struct {
	b Bundle
}

func NewBuilder() *Builder { return &Builder{} }

// Asset appends an asset entry and returns its index.
func (bb *Builder) Asset(addr common.Address, save, take, settle uint64) uint16 {
	bb.b.Assets = append(bb.b.Assets, Asset{
		Addr:   addr,
		Save:   uint256.NewInt(save),
		Take:   uint256.NewInt(take),
		Settle: uint256.NewInt(settle),
	})
	return uint16(len(bb.b.Assets) - 1)
}

func (bb *Builder) Order(o Order) *Builder {
	bb.b.Orders = append(bb.b.Orders, o)
	return bb
}

func (bb *Builder) Reward(assetIndex uint16, recipient common.Address, amount uint64) *Builder {
	bb.b.Rewards = append(bb.b.Rewards, Reward{AssetIndex: assetIndex, Recipient: recipient, Amount: uint256.NewInt(amount)})
	return bb
}

func (bb *Builder) Bundle() *Bundle { return &bb.b }

func (bb *Builder) Encode() ([]byte, error) { return bb.b.Encode() }
