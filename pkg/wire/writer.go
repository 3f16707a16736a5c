package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Writer appends fields in the same layout Reader consumes. The first
// failure is sticky and reported by Bytes.
type Writer struct {
	buf []byte
	err error
}

func NewWriter(capacity int) *Writer { return &Writer{buf: make([]byte, 0, capacity)} }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) Uint24(v uint32) {
	if v > MaxUint24 {
		w.fail(fmt.Errorf("%w: %d exceeds 24 bits", ErrOverflow, v))
		return
	}
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}

func (w *Writer) Uint128(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	if v.BitLen() > 128 {
		w.fail(fmt.Errorf("%w: %s exceeds 128 bits", ErrOverflow, v.Dec()))
		return
	}
	b := v.Bytes32()
	w.buf = append(w.buf, b[16:]...)
}

func (w *Writer) Address(a common.Address) { w.buf = append(w.buf, a.Bytes()...) }

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the encoding or the first error hit while writing.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}
