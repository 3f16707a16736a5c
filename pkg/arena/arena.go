// Package arena implements a bump allocator over one contiguous scratch
// region with LIFO-only reclamation.
//
// Blocks are addressed by offset, never by slice, because the backing
// memory may move when it grows. Callers re-resolve a block with Bytes
// every time they touch it.
package arena

// Arena is not safe for concurrent use. One arena serves one settlement
// call stack at a time.
type Arena struct {
	buf    []byte
	cursor int
	peak   int
}

// New returns an arena whose backing region starts at initial bytes.
func New(initial int) *Arena {
	if initial < 0 {
		initial = 0
	}
	return &Arena{buf: make([]byte, initial)}
}

// Allocate returns the current cursor and bumps it by size. It never fails:
// the backing region grows on demand.
func (a *Arena) Allocate(size int) int {
	if size < 0 {
		panic("arena: negative allocation size")
	}
	ptr := a.cursor
	end := ptr + size
	if end > len(a.buf) {
		a.grow(end)
	}
	a.cursor = end
	if end > a.peak {
		a.peak = end
	}
	return ptr
}

// TryFree rewinds the cursor to ptr iff the block [ptr, ptr+size) is the
// topmost live allocation. Any other block is left in place (leaked) since
// memory handed out after it may still be referenced.
func (a *Arena) TryFree(ptr, size int) bool {
	if ptr < 0 || size < 0 || ptr+size != a.cursor {
		return false
	}
	a.cursor = ptr
	return true
}

// Bytes returns a view of the block [ptr, ptr+size). The view is only valid
// until the next Allocate.
func (a *Arena) Bytes(ptr, size int) []byte {
	if ptr < 0 || size < 0 || ptr+size > a.cursor {
		panic("arena: block outside allocated region")
	}
	return a.buf[ptr : ptr+size : ptr+size]
}

// Cursor returns the free pointer.
func (a *Arena) Cursor() int { return a.cursor }

// Peak returns the high-water mark of the cursor since creation.
func (a *Arena) Peak() int { return a.peak }

// Cap returns the size of the backing region.
func (a *Arena) Cap() int { return len(a.buf) }

// Reset rewinds the cursor to zero, keeping the backing region. Only call it
// between settlement units, when no descriptor can still point into the arena.
func (a *Arena) Reset() { a.cursor = 0 }

func (a *Arena) grow(need int) {
	n := 2 * len(a.buf)
	if n < need {
		n = need
	}
	if n < 256 {
		n = 256
	}
	next := make([]byte, n)
	copy(next, a.buf[:a.cursor])
	a.buf = next
}
