package buffer

import (
	"errors"
	"fmt"
)

// ErrBufferFull is returned by FixPage when the pool is at capacity and every
// resident frame is pinned. It is recoverable: the caller can unfix other pages
// and retry.
var ErrBufferFull = errors.New("buffer pool: all frames are pinned, cannot evict")

// ErrUsage reports a caller protocol violation: unfixing a handle this pool
// never issued, or closing a pool with outstanding pins.
var ErrUsage = errors.New("buffer pool: usage error")

// IoError wraps a failure from the underlying block store and carries the page
// id the operation was acting on, so a caller can log or retry by id.
type IoError struct {
	PageID uint64
	Op     string
	Err    error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("buffer pool: %s page %d: %v", e.Op, e.PageID, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

func newIoError(op string, pageID uint64, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{PageID: pageID, Op: op, Err: err}
}
