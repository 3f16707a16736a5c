package hook

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Composable is a hook contract living in-process.
type Composable interface {
	Compose(ctx context.Context, from common.Address, payload []byte) (uint32, error)
}

// ComposeFunc adapts a function to Composable.
type ComposeFunc func(ctx context.Context, from common.Address, payload []byte) (uint32, error)

func (f ComposeFunc) Compose(ctx context.Context, from common.Address, payload []byte) (uint32, error) {
	return f(ctx, from, payload)
}

// Registry is an Invoker that routes compose calls to in-process hooks by
// address, speaking the same ABI an on-chain hook would.
type Registry struct {
	mu    sync.RWMutex
	hooks map[common.Address]Composable
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[common.Address]Composable)}
}

func (r *Registry) Register(addr common.Address, h Composable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[addr] = h
}

func (r *Registry) Unregister(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, addr)
}

// Invoke decodes compose calldata, runs the hook and encodes its result.
// The registry lock is not held while the hook runs, so hooks may register
// or re-enter freely.
func (r *Registry) Invoke(ctx context.Context, callee common.Address, calldata []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.hooks[callee]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHookAtAddress, callee.Hex())
	}

	from, payload, err := DecodeCompose(calldata)
	if err != nil {
		return nil, err
	}
	magic, err := h.Compose(ctx, from, payload)
	if err != nil {
		return nil, err
	}
	return EncodeReturn(magic)
}

var _ Invoker = (*Registry)(nil)
