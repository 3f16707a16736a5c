package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type reserveSlot struct{ owner, asset common.Address }

// Tx buffers reserve, fee and receipt writes over a Store. Reads see the
// buffered values. Nothing reaches Pebble until Commit. A Tx is not safe
// for concurrent use.
type Tx struct {
	store    *Store
	reserves map[reserveSlot]*uint256.Int
	fees     map[common.Address]*uint256.Int
	receipt  *Receipt
	done     bool
}

func (s *Store) Begin() *Tx {
	return &Tx{
		store:    s,
		reserves: make(map[reserveSlot]*uint256.Int),
		fees:     make(map[common.Address]*uint256.Int),
	}
}

func (tx *Tx) Reserve(owner, asset common.Address) (*uint256.Int, error) {
	if v, ok := tx.reserves[reserveSlot{owner, asset}]; ok {
		return v.Clone(), nil
	}
	return tx.store.Reserve(owner, asset)
}

func (tx *Tx) SetReserve(owner, asset common.Address, v *uint256.Int) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.reserves[reserveSlot{owner, asset}] = v.Clone()
	return nil
}

func (tx *Tx) SavedFees(asset common.Address) (*uint256.Int, error) {
	if v, ok := tx.fees[asset]; ok {
		return v.Clone(), nil
	}
	return tx.store.SavedFees(asset)
}

// AddSavedFees adds amount to the fee balance of asset.
func (tx *Tx) AddSavedFees(asset common.Address, amount *uint256.Int) error {
	if tx.done {
		return ErrTxClosed
	}
	cur, err := tx.SavedFees(asset)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("%w: fees of %s", ErrOverflow, asset.Hex())
	}
	tx.fees[asset] = sum
	return nil
}

// PutReceipt stages r. Its Sequence is assigned on Commit.
func (tx *Tx) PutReceipt(r *Receipt) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.receipt = r
	return nil
}

// Commit writes every staged value in one synced batch.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for k, v := range tx.reserves {
		b := v.Bytes32()
		if err := batch.Set(reserveKey(k.owner, k.asset), b[:], nil); err != nil {
			return fmt.Errorf("failed to stage reserve: %w", err)
		}
	}
	for asset, v := range tx.fees {
		b := v.Bytes32()
		if err := batch.Set(feesKey(asset), b[:], nil); err != nil {
			return fmt.Errorf("failed to stage fees: %w", err)
		}
	}

	seq := s.seq
	if tx.receipt != nil {
		seq++
		tx.receipt.Sequence = seq
		data, err := json.Marshal(tx.receipt)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		if err := batch.Set(receiptKey(seq), data, nil); err != nil {
			return fmt.Errorf("failed to stage receipt: %w", err)
		}
		if err := batch.Set(receiptHashKey(tx.receipt.BundleHash), encodeSeq(seq), nil); err != nil {
			return fmt.Errorf("failed to stage receipt index: %w", err)
		}
		if err := batch.Set(seqKey(), encodeSeq(seq), nil); err != nil {
			return fmt.Errorf("failed to stage sequence: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		if tx.receipt != nil {
			tx.receipt.Sequence = 0
		}
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	s.seq = seq
	return nil
}

// Discard drops every staged write.
func (tx *Tx) Discard() {
	tx.done = true
	tx.reserves = nil
	tx.fees = nil
	tx.receipt = nil
}
