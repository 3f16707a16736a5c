package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	rsv:<owner>:<asset> → reserve balance (32-byte big-endian)
//	fee:<asset>         → saved fees (32-byte big-endian)
//	rcpt:<seq>          → Receipt (JSON), seq zero-padded for ordering
//	rh:<bundle hash>    → receipt sequence (8-byte big-endian)
//	seq                 → last receipt sequence
const (
	prefixReserve = "rsv:"
	prefixFees    = "fee:"
	prefixReceipt = "rcpt:"
	prefixHash    = "rh:"
)

func reserveKey(owner, asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixReserve, owner.Hex(), asset.Hex()))
}

func feesKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixFees, asset.Hex()))
}

// receiptKey zero-pads to 20 digits so keys sort by sequence.
func receiptKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixReceipt, seq))
}

func receiptHashKey(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixHash, h.Hex()))
}

func seqKey() []byte { return []byte("seq") }

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("bad sequence length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
