package wire

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestWriterReaderFields(t *testing.T) {
	addr := common.HexToAddress("0xAA00000000000000000000000000000000000001")
	amount := uint256.MustFromDecimal("340282366920938463463374607431768211455") // 2^128-1

	w := NewWriter(64)
	w.Uint8(7)
	w.Uint16(0xBEEF)
	w.Uint24(0x0A0B0C)
	w.Uint128(amount)
	w.Address(addr)
	raw, err := w.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != 1+2+3+16+20 {
		t.Fatalf("encoded length = %d", len(raw))
	}
	if raw[3] != 0x0A || raw[4] != 0x0B || raw[5] != 0x0C {
		t.Errorf("u24 not big-endian: % x", raw[3:6])
	}

	r := NewReader(raw)
	if v, _ := r.Uint8(); v != 7 {
		t.Errorf("uint8 = %d", v)
	}
	if v, _ := r.Uint16(); v != 0xBEEF {
		t.Errorf("uint16 = %x", v)
	}
	if v, _ := r.Uint24(); v != 0x0A0B0C {
		t.Errorf("uint24 = %x", v)
	}
	if v, _ := r.Uint128(); !v.Eq(amount) {
		t.Errorf("uint128 = %s", v.Dec())
	}
	if v, _ := r.Address(); v != addr {
		t.Errorf("address = %s", v.Hex())
	}
	if err := r.Done(); err != nil {
		t.Errorf("done: %v", err)
	}
}

func TestReaderShortBufferDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	if _, err := r.Uint24(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
	if r.Offset() != 0 {
		t.Errorf("offset moved to %d", r.Offset())
	}
	if err := r.Done(); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("done err = %v, want ErrTrailingBytes", err)
	}
}

func TestWriterOverflow(t *testing.T) {
	w := NewWriter(0)
	w.Uint24(MaxUint24 + 1)
	if _, err := w.Bytes(); !errors.Is(err, ErrOverflow) {
		t.Errorf("u24 overflow err = %v", err)
	}

	w = NewWriter(0)
	w.Uint128(new(uint256.Int).Lsh(uint256.NewInt(1), 128))
	if _, err := w.Bytes(); !errors.Is(err, ErrOverflow) {
		t.Errorf("u128 overflow err = %v", err)
	}
}
