// Package hook decodes per-order hook records into arena-backed call
// descriptors and dispatches them to the hook contract.
//
// Wire record (present only when the order's hook flag is set):
//
//	[3 bytes]    L, big-endian
//	[20 bytes]   callee address
//	[L-20 bytes] opaque payload
package hook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/bundlesettle/pkg/arena"
	"github.com/uhyunpark/bundlesettle/pkg/wire"
)

const addrLen = common.AddressLength

// EmptyHash is keccak256 of zero bytes, the commitment of an absent hook.
var EmptyHash = crypto.Keccak256Hash(nil)

// Descriptor points at a decoded hook block in the arena. The zero value is
// the absent hook.
type Descriptor struct {
	Ptr        int            // arena offset of the block
	Callee     common.Address // hook contract
	PayloadLen int            // bytes after the 20-byte header

	present bool
}

// Present reports whether the descriptor carries a hook.
func (d Descriptor) Present() bool { return d.present }

// Size is the arena footprint of the block: header plus payload.
func (d Descriptor) Size() int { return addrLen + d.PayloadLen }

// Decode reads one hook record from r into a fresh arena block. With
// hasHook unset it consumes nothing and returns the absent descriptor and
// EmptyHash. The returned hash covers the full L-byte record body.
func Decode(r *wire.Reader, hasHook bool, a *arena.Arena) (Descriptor, common.Hash, error) {
	if !hasHook {
		return Descriptor{}, EmptyHash, nil
	}
	l, err := r.Uint24()
	if err != nil {
		return Descriptor{}, common.Hash{}, fmt.Errorf("%w: length prefix: %w", ErrMalformedHookRecord, err)
	}
	if l < addrLen {
		return Descriptor{}, common.Hash{}, fmt.Errorf("%w: length %d shorter than callee address", ErrMalformedHookRecord, l)
	}
	src, err := r.Next(int(l))
	if err != nil {
		return Descriptor{}, common.Hash{}, fmt.Errorf("%w: body: %w", ErrMalformedHookRecord, err)
	}

	ptr := a.Allocate(int(l))
	block := a.Bytes(ptr, int(l))
	copy(block, src)

	d := Descriptor{
		Ptr:        ptr,
		Callee:     common.BytesToAddress(block[:addrLen]),
		PayloadLen: int(l) - addrLen,
		present:    true,
	}
	return d, crypto.Keccak256Hash(block), nil
}

// Encode produces the wire record for (callee, payload).
func Encode(callee common.Address, payload []byte) ([]byte, error) {
	w := wire.NewWriter(3 + addrLen + len(payload))
	l := addrLen + len(payload)
	if l > wire.MaxUint24 {
		return nil, fmt.Errorf("hook: payload of %d bytes exceeds record limit", len(payload))
	}
	w.Uint24(uint32(l))
	w.Address(callee)
	w.Raw(payload)
	return w.Bytes()
}

// Payload returns a copy of the payload bytes of d.
func Payload(a *arena.Arena, d Descriptor) []byte {
	if !d.present {
		return nil
	}
	block := a.Bytes(d.Ptr, d.Size())
	return append([]byte(nil), block[addrLen:]...)
}
