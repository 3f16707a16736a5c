package storage

import (
	"fmt"
	"os"
	"sync"
)

// WAL receives one line per settlement outcome: "commit seq=.. bundle=.."
// for committed bundles and "abort bundle=.. phase=.. reason=.." for
// aborted ones. It is an audit trail beside the store, never read back.
type WAL interface {
	Append(line string)
}

// NopWAL drops every outcome line. It is the settlement default.
type NopWAL struct{}

func NewNopWAL() *NopWAL { return &NopWAL{} }

func (*NopWAL) Append(string) {}

// FileWAL appends outcome lines to a file opened in append mode, so lines
// from earlier runs are kept. Writes are serialised.
type FileWAL struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome log %s: %w", path, err)
	}
	return &FileWAL{f: f}, nil
}

// Append writes line followed by a newline. Lines after Close are dropped.
func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	fmt.Fprintln(w.f, line)
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

var (
	_ WAL = (*NopWAL)(nil)
	_ WAL = (*FileWAL)(nil)
)
