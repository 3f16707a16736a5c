package settle

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/ledger"
	"github.com/uhyunpark/bundlesettle/pkg/reserve"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/wire"
)

// session is the live state of one bundle. It is also the Host handed to
// hooks.
type session struct {
	*unit
	deltas   *ledger.Deltas
	ledger   *ledger.Ledger
	reserves *reserve.Reserves
}

func (u *unit) execute(ctx context.Context, raw []byte, bundleHash common.Hash) (*storage.Receipt, error) {
	s := u.s
	deltas := ledger.NewDeltas()
	sess := &session{
		unit:     u,
		deltas:   deltas,
		ledger:   ledger.New(deltas, u.tx, s.venue, s.custody),
		reserves: reserve.New(u.tx, deltas, s.tokens, s.custody),
	}
	s.arena.Reset()
	return sess.run(withHost(ctx, sess), raw, bundleHash)
}

func (ss *session) run(ctx context.Context, raw []byte, bundleHash common.Hash) (*storage.Receipt, error) {
	s := ss.s
	r := wire.NewReader(raw)

	assets, err := decodeAssets(r)
	if err != nil {
		return nil, &AbortError{Phase: PhaseDecode, Order: -1, Err: err}
	}

	// Take phase.
	for _, a := range assets {
		if err := ss.ledger.RecordTake(a.Addr, a.Take); err != nil {
			return nil, &AbortError{Phase: PhaseTake, Order: -1, Asset: a.Addr, Err: err}
		}
	}

	rcpt := &storage.Receipt{BundleHash: bundleHash}

	// Hook/settle phase: orders, then rewards.
	n, err := r.Uint16()
	if err != nil {
		return nil, &AbortError{Phase: PhaseOrder, Order: -1, Err: malformed("order count", err)}
	}
	for i := 0; i < int(n); i++ {
		o, err := decodeOrder(r, len(assets), s.arena)
		if err != nil {
			return nil, &AbortError{Phase: PhaseOrder, Order: i, Err: err}
		}
		if err := ss.settleOrder(ctx, o, assets); err != nil {
			return nil, &AbortError{Phase: PhaseOrder, Order: i, Err: err}
		}
		rcpt.OrderHashes = append(rcpt.OrderHashes, o.Hash)
	}

	n, err = r.Uint16()
	if err != nil {
		return nil, &AbortError{Phase: PhaseReward, Order: -1, Err: malformed("reward count", err)}
	}
	for i := 0; i < int(n); i++ {
		rw, err := decodeReward(r, len(assets))
		if err != nil {
			return nil, &AbortError{Phase: PhaseReward, Order: i, Err: err}
		}
		asset := assets[rw.AssetIndex].Addr
		ss.deltas.Sub(asset, rw.Amount)
		if err := ss.ledger.SettleRewardTo(rw.Recipient, asset, rw.Amount); err != nil {
			return nil, &AbortError{Phase: PhaseReward, Order: i, Asset: asset, Err: err}
		}
		rcpt.Rewards = append(rcpt.Rewards, storage.RewardFlow{
			Asset:     asset,
			Recipient: rw.Recipient,
			Amount:    rw.Amount.Dec(),
		})
	}
	if err := r.Done(); err != nil {
		return nil, &AbortError{Phase: PhaseReward, Order: -1, Err: malformed("bundle", err)}
	}

	// Save and settle, in asset array order.
	for _, a := range assets {
		if err := ss.ledger.RecordSaveAndSettle(a.Addr, a.Save, a.Settle); err != nil {
			return nil, &AbortError{Phase: PhaseSettle, Order: -1, Asset: a.Addr, Err: err}
		}
		rcpt.Assets = append(rcpt.Assets, storage.AssetFlow{
			Asset:  a.Addr,
			Save:   a.Save.Dec(),
			Take:   a.Take.Dec(),
			Settle: a.Settle.Dec(),
		})
	}
	if err := ss.deltas.CheckNonNegative(); err != nil {
		var asset common.Address
		var nn *ledger.NetNegativeError
		if errors.As(err, &nn) {
			asset = nn.Asset
		}
		return nil, &AbortError{Phase: PhaseSettle, Order: -1, Asset: asset, Err: err}
	}
	return rcpt, nil
}

// settleOrder pays the order out, runs its hook with the payout in hand and
// then collects the order's input.
func (ss *session) settleOrder(ctx context.Context, o *decodedOrder, assets []Asset) error {
	s := ss.s
	in, out := assets[o.AssetIn].Addr, assets[o.AssetOut].Addr

	if err := ss.reserves.SettleOrderOut(o.payee(), out, o.QuantityOut, o.UseInternal); err != nil {
		return err
	}

	freed, err := s.trigger(ctx, o.hook, o.From)
	if err != nil {
		return err
	}
	if o.hook.Present() {
		if s.metrics != nil {
			s.metrics.HooksTriggered.Inc()
		}
		if !freed {
			if s.metrics != nil {
				s.metrics.ArenaLeaks.Inc()
			}
			s.logger.Debugw("hook_leaked", "callee", o.hook.Callee.Hex(), "ptr", o.hook.Ptr, "size", o.hook.Size())
		}
	}

	return ss.reserves.SettleOrderIn(o.From, in, o.QuantityIn, o.UseInternal)
}

func (s *Settlement) trigger(ctx context.Context, d hook.Descriptor, caller common.Address) (bool, error) {
	s.inHook.Store(true)
	defer s.inHook.Store(false)
	return hook.TriggerAndFree(ctx, s.arena, s.invoker, d, caller)
}

// Host

func (ss *session) Custody() common.Address { return ss.s.custody }

func (ss *session) Reserve(owner, asset common.Address) (*uint256.Int, error) {
	return ss.reserves.Balance(owner, asset)
}

func (ss *session) Delta(asset common.Address) *big.Int { return ss.deltas.Get(asset) }

func (ss *session) Deposit(owner, asset common.Address, amount *uint256.Int) error {
	return ss.reserves.Deposit(owner, asset, amount)
}

func (ss *session) Withdraw(owner, asset common.Address, amount *uint256.Int) error {
	return ss.reserves.Withdraw(owner, asset, amount)
}

var _ Host = (*session)(nil)
