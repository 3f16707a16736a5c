// Package storage persists reserves, saved fees and bundle receipts in
// Pebble. Writes go through a Tx that is flushed as one batch.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Store struct {
	db *pebble.DB

	mu  sync.Mutex // guards seq across commits
	seq uint64
}

// Open opens a Pebble database at path.
func Open(path string) (*Store, error) {
	cache := pebble.NewCache(64 << 20) // 64MB cache
	defer cache.Unref()
	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	return open(path, opts)
}

// OpenInMem opens a store backed by an in-memory filesystem.
func OpenInMem() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %q: %w", path, err)
	}
	s := &Store{db: db}
	seq, err := s.loadSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq = seq
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Reserve returns the committed reserve of owner in asset.
func (s *Store) Reserve(owner, asset common.Address) (*uint256.Int, error) {
	return s.getAmount(reserveKey(owner, asset))
}

// SavedFees returns the committed fee balance of asset.
func (s *Store) SavedFees(asset common.Address) (*uint256.Int, error) {
	return s.getAmount(feesKey(asset))
}

// LastSequence returns the sequence of the latest committed receipt.
func (s *Store) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Receipt loads the receipt of a committed bundle.
// Returns nil if no bundle with that hash was committed.
func (s *Store) Receipt(bundleHash common.Hash) (*Receipt, error) {
	raw, closer, err := s.db.Get(receiptHashKey(bundleHash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt index: %w", err)
	}
	seq, err := decodeSeq(raw)
	closer.Close()
	if err != nil {
		return nil, err
	}
	return s.receiptBySeq(seq)
}

// RecentReceipts returns up to limit receipts, newest first.
func (s *Store) RecentReceipts(limit int) ([]*Receipt, error) {
	prefix := []byte(prefixReceipt)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt iterator: %w", err)
	}
	defer iter.Close()

	var out []*Receipt
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var r Receipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipt %s: %w", iter.Key(), err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *Store) receiptBySeq(seq uint64) (*Receipt, error) {
	data, closer, err := s.db.Get(receiptKey(seq))
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %d: %w", seq, err)
	}
	defer closer.Close()
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt %d: %w", seq, err)
	}
	return &r, nil
}

func (s *Store) getAmount(key []byte) (*uint256.Int, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return new(uint256.Int).SetBytes(data), nil
}

func (s *Store) loadSeq() (uint64, error) {
	data, closer, err := s.db.Get(seqKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sequence: %w", err)
	}
	defer closer.Close()
	return decodeSeq(data)
}
