package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrTrailingBytes = errors.New("wire: trailing bytes")
	ErrOverflow      = errors.New("wire: value does not fit field")
)

// MaxUint24 is the largest length a 3-byte prefix can carry.
const MaxUint24 = 1<<24 - 1

// Reader is a forward-only cursor over a compact big-endian encoding.
// Every read either consumes exactly the field width or fails without moving.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Offset returns how many bytes have been consumed.
func (r *Reader) Offset() int { return r.off }

// Remaining returns how many bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Next returns the next n bytes and advances past them. The returned slice
// aliases the underlying buffer.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Slice returns buf[from:to] of the underlying buffer without moving the cursor.
func (r *Reader) Slice(from, to int) []byte { return r.buf[from:to] }

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint24 reads a 3-byte big-endian unsigned integer.
func (r *Reader) Uint24() (uint32, error) {
	b, err := r.Next(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// Uint128 reads a 16-byte big-endian unsigned integer.
func (r *Reader) Uint128() (*uint256.Int, error) {
	b, err := r.Next(16)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes16(b), nil
}

func (r *Reader) Address() (common.Address, error) {
	b, err := r.Next(common.AddressLength)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

// Done reports ErrTrailingBytes if anything is left unread.
func (r *Reader) Done() error {
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d bytes after offset %d", ErrTrailingBytes, n, r.off)
	}
	return nil
}
