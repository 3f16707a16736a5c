package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/bundlesettle/pkg/arena"
)

var (
	ErrInvalidHookReturn   = errors.New("hook: invalid hook return")
	ErrMalformedHookRecord = errors.New("hook: malformed hook record")
	ErrNoHookAtAddress     = errors.New("hook: no hook at address")
	ErrBadSelector         = errors.New("hook: unknown function selector")
)

// ReturnMagic is the acknowledgement a hook must return from compose.
const ReturnMagic uint32 = 0x24a2e44b

// ComposeSelector is the 4-byte selector of compose(address,bytes).
var ComposeSelector = crypto.Keccak256([]byte("compose(address,bytes)"))[:4]

var (
	composeArgs = abi.Arguments{
		{Name: "from", Type: mustType("address")},
		{Name: "payload", Type: mustType("bytes")},
	}
	returnArgs = abi.Arguments{{Type: mustType("uint32")}}

	magicWord = func() []byte {
		w := make([]byte, 32)
		m := ReturnMagic
		w[28], w[29], w[30], w[31] = byte(m>>24), byte(m>>16), byte(m>>8), byte(m)
		return w
	}()
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Invoker performs the synchronous external call into a hook contract. The
// callee may re-enter the settlement before Invoke returns.
type Invoker interface {
	Invoke(ctx context.Context, callee common.Address, calldata []byte) ([]byte, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, callee common.Address, calldata []byte) ([]byte, error)

func (f InvokerFunc) Invoke(ctx context.Context, callee common.Address, calldata []byte) ([]byte, error) {
	return f(ctx, callee, calldata)
}

// EncodeCompose builds calldata for compose(from, payload).
func EncodeCompose(from common.Address, payload []byte) ([]byte, error) {
	args, err := composeArgs.Pack(from, payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ComposeSelector)+len(args))
	out = append(out, ComposeSelector...)
	return append(out, args...), nil
}

// DecodeCompose is the callee side of EncodeCompose.
func DecodeCompose(calldata []byte) (common.Address, []byte, error) {
	if len(calldata) < len(ComposeSelector) || !bytes.Equal(calldata[:len(ComposeSelector)], ComposeSelector) {
		return common.Address{}, nil, ErrBadSelector
	}
	vals, err := composeArgs.Unpack(calldata[len(ComposeSelector):])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("hook: decode compose args: %w", err)
	}
	from, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("hook: compose arg 0 is %T", vals[0])
	}
	payload, ok := vals[1].([]byte)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("hook: compose arg 1 is %T", vals[1])
	}
	return from, payload, nil
}

// EncodeReturn ABI-encodes a compose return value.
func EncodeReturn(v uint32) ([]byte, error) { return returnArgs.Pack(v) }

// TriggerAndFree calls the hook described by d with caller injected as the
// compose sender, validates the acknowledgement and then tries to reclaim
// the block. It reports whether the block was reclaimed; a block that is not
// topmost is left allocated. An absent descriptor is a no-op.
//
// On any failed, short or unacknowledged call the error wraps
// ErrInvalidHookReturn and the block stays allocated.
func TriggerAndFree(ctx context.Context, a *arena.Arena, inv Invoker, d Descriptor, caller common.Address) (bool, error) {
	if !d.present {
		return false, nil
	}
	if inv == nil {
		return false, fmt.Errorf("%w: no invoker for %s", ErrInvalidHookReturn, d.Callee.Hex())
	}

	block := a.Bytes(d.Ptr, d.Size())
	copy(block[:addrLen], caller.Bytes())
	calldata, err := EncodeCompose(caller, block[addrLen:])
	if err != nil {
		return false, fmt.Errorf("hook: encode compose call: %w", err)
	}

	ret, err := inv.Invoke(ctx, d.Callee, calldata)
	switch {
	case err != nil:
		return false, fmt.Errorf("%w: call to %s failed: %w", ErrInvalidHookReturn, d.Callee.Hex(), err)
	case len(ret) < 32:
		return false, fmt.Errorf("%w: %s returned %d bytes", ErrInvalidHookReturn, d.Callee.Hex(), len(ret))
	case !bytes.Equal(ret[:32], magicWord):
		return false, fmt.Errorf("%w: %s returned 0x%x", ErrInvalidHookReturn, d.Callee.Hex(), ret[:32])
	}

	return a.TryFree(d.Ptr, d.Size()), nil
}
