package storage

import "errors"

var (
	ErrTxClosed = errors.New("storage: transaction already closed")
	ErrOverflow = errors.New("storage: amount overflow")
)
