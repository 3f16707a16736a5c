// Package settle executes bundles of pre-matched orders atomically against
// a liquidity venue. A bundle either commits every effect or none.
package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/bundlesettle/pkg/arena"
	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/metrics"
	"github.com/uhyunpark/bundlesettle/pkg/reserve"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/token"
	"github.com/uhyunpark/bundlesettle/pkg/util"
	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

const defaultArenaBytes = 4 << 10

type Option func(*Settlement)

func WithLogger(l *zap.SugaredLogger) Option { return func(s *Settlement) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Settlement) { s.metrics = m } }

func WithClock(c util.Clock) Option { return func(s *Settlement) { s.clock = c } }

func WithWAL(w storage.WAL) Option { return func(s *Settlement) { s.wal = w } }

func WithArenaSize(n int) Option { return func(s *Settlement) { s.arena = arena.New(n) } }

// WithJournals registers collaborators rolled back when a unit aborts.
// The venue and token bank belong here when they support it.
func WithJournals(j ...token.Journal) Option {
	return func(s *Settlement) { s.journals = append(s.journals, j...) }
}

// OnCommit registers a callback run after every committed bundle, outside
// the settlement lock.
func OnCommit(f func(*storage.Receipt)) Option {
	return func(s *Settlement) { s.listeners = append(s.listeners, f) }
}

// Settlement owns the process-wide arena and serialises every unit of work
// (bundles, standalone deposits and withdrawals).
type Settlement struct {
	mu sync.Mutex
	// inHook is set while a hook call is in flight. No unit may start then,
	// whatever context the caller holds.
	inHook atomic.Bool

	store    *storage.Store
	venue    venue.Venue
	tokens   token.Transferer
	invoker  hook.Invoker
	custody  common.Address
	journals []token.Journal
	arena    *arena.Arena

	clock     util.Clock
	wal       storage.WAL
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
	listeners []func(*storage.Receipt)
}

// New wires a settlement. tokens must act as custody: TransferFrom pulls
// into custody using custody's allowance, Transfer pays out of it.
func New(store *storage.Store, v venue.Venue, tokens token.Transferer, inv hook.Invoker, custody common.Address, opts ...Option) *Settlement {
	s := &Settlement{
		store:   store,
		venue:   v,
		tokens:  tokens,
		invoker: inv,
		custody: custody,
		clock:   util.RealClock{},
		wal:     storage.NewNopWAL(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.arena == nil {
		s.arena = arena.New(defaultArenaBytes)
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	return s
}

func (s *Settlement) Custody() common.Address { return s.custody }

func (s *Settlement) Store() *storage.Store { return s.store }

// ArenaPeak returns the arena high-water mark.
func (s *Settlement) ArenaPeak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.Peak()
}

// Execute settles one encoded bundle. On failure every effect is rolled back
// and the returned error is an *AbortError.
func (s *Settlement) Execute(ctx context.Context, raw []byte) (*storage.Receipt, error) {
	if s.reentered(ctx) {
		return nil, ErrReentrantCall
	}
	s.mu.Lock()
	start := s.clock.Now()
	bundleHash := Hash(raw)

	u := s.begin()
	rcpt, err := u.execute(ctx, raw, bundleHash)
	if err == nil {
		rcpt.CommittedAt = s.clock.Now().UTC()
		if err = u.commit(rcpt); err != nil {
			err = &AbortError{Phase: PhaseCommit, Order: -1, Err: err}
		}
	} else {
		u.abort()
	}
	s.observe(bundleHash, rcpt, err, start)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, f := range s.listeners {
		f(rcpt)
	}
	return rcpt, nil
}

func (s *Settlement) observe(bundleHash common.Hash, rcpt *storage.Receipt, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.ArenaHighWater.Set(float64(s.arena.Peak()))
	}
	if err != nil {
		phase := PhaseDecode
		var ae *AbortError
		if errors.As(err, &ae) {
			phase = ae.Phase
		}
		reason := Reason(err)
		if s.metrics != nil {
			s.metrics.BundlesAborted.WithLabelValues(reason, string(phase)).Inc()
		}
		s.logger.Warnw("bundle_aborted", "bundle", bundleHash.Hex(), "phase", phase, "reason", reason, "err", err)
		s.wal.Append(fmt.Sprintf("abort bundle=%s phase=%s reason=%s", bundleHash.Hex(), phase, reason))
		return
	}
	if s.metrics != nil {
		s.metrics.BundlesCommitted.Inc()
		s.metrics.BundleOrders.Observe(float64(len(rcpt.OrderHashes)))
		s.metrics.BundleDuration.Observe(s.clock.Now().Sub(start).Seconds())
	}
	s.logger.Infow("bundle_committed",
		"bundle", bundleHash.Hex(),
		"seq", rcpt.Sequence,
		"orders", len(rcpt.OrderHashes),
		"rewards", len(rcpt.Rewards),
	)
	s.wal.Append(fmt.Sprintf("commit seq=%d bundle=%s orders=%d", rcpt.Sequence, bundleHash.Hex(), len(rcpt.OrderHashes)))
}

// Deposit pulls amount of asset from owner into custody and credits the
// owner's reserve, as one atomic unit.
func (s *Settlement) Deposit(ctx context.Context, owner, asset common.Address, amount *uint256.Int) error {
	return s.reserveOp(ctx, "deposit", func(r *reserve.Reserves) error {
		return r.Deposit(owner, asset, amount)
	})
}

// Withdraw debits the owner's reserve and sends the tokens out of custody.
func (s *Settlement) Withdraw(ctx context.Context, owner, asset common.Address, amount *uint256.Int) error {
	return s.reserveOp(ctx, "withdraw", func(r *reserve.Reserves) error {
		return r.Withdraw(owner, asset, amount)
	})
}

func (s *Settlement) reserveOp(ctx context.Context, op string, f func(*reserve.Reserves) error) error {
	if s.reentered(ctx) {
		return ErrReentrantCall
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.begin()
	err := f(reserve.New(u.tx, nil, s.tokens, s.custody))
	if err == nil {
		err = u.commit(nil)
	} else {
		u.abort()
	}

	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Warnw("reserve_op_failed", "op", op, "err", err)
	}
	if s.metrics != nil {
		s.metrics.ReserveOps.WithLabelValues(op, result).Inc()
	}
	return err
}

// reentered reports whether a call would nest inside a running unit: either
// ctx came from a hook, or a hook is executing right now.
func (s *Settlement) reentered(ctx context.Context) bool {
	if _, nested := HostFrom(ctx); nested {
		return true
	}
	return s.inHook.Load()
}

// unit is one atomic piece of work: a buffered storage transaction plus a
// snapshot of every journaled collaborator.
type unit struct {
	s     *Settlement
	tx    *storage.Tx
	snaps []int
}

func (s *Settlement) begin() *unit {
	u := &unit{s: s, tx: s.store.Begin(), snaps: make([]int, len(s.journals))}
	for i, j := range s.journals {
		u.snaps[i] = j.Snapshot()
	}
	return u
}

func (u *unit) commit(rcpt *storage.Receipt) error {
	if rcpt != nil {
		if err := u.tx.PutReceipt(rcpt); err != nil {
			u.abort()
			return err
		}
	}
	if err := u.tx.Commit(); err != nil {
		u.revert()
		return err
	}
	for i := len(u.s.journals) - 1; i >= 0; i-- {
		u.s.journals[i].DiscardSnapshot(u.snaps[i])
	}
	return nil
}

func (u *unit) abort() {
	u.tx.Discard()
	u.revert()
}

func (u *unit) revert() {
	for i := len(u.s.journals) - 1; i >= 0; i-- {
		u.s.journals[i].RevertToSnapshot(u.snaps[i])
	}
}
