package buffer

import (
	"sync"

	"bufpool/disk"
)

// frame is one resident page: its identity, bytes, pin count, dirty flag, and the
// reader/writer latch guarding its bytes. pin count and dirty are bookkeeping the
// pool mutates under its own lock; the frame never reads or changes them itself.
type frame struct {
	pageID   uint64
	data     []byte
	pinCount int
	dirty    bool
	latch    sync.RWMutex
}

func newFrame(pageID uint64, pageSize int) *frame {
	return &frame{
		pageID: pageID,
		data:   make([]byte, pageSize),
	}
}

// acquire blocks until the frame's latch is held in the requested mode.
func (f *frame) acquire(exclusive bool) {
	if exclusive {
		f.latch.Lock()
	} else {
		f.latch.RLock()
	}
}

// unlatch releases a latch previously taken with acquire(exclusive).
func (f *frame) unlatch(exclusive bool) {
	if exclusive {
		f.latch.Unlock()
	} else {
		f.latch.RUnlock()
	}
}

// readFromDisk fills the frame's bytes from its backing block. Callers must hold
// the latch exclusively so no reader observes a partially-filled buffer.
func (f *frame) readFromDisk(store disk.BlockStore) error {
	return newIoError("reading", f.pageID, store.ReadBlock(f.pageID, len(f.data), f.data))
}

// writeToDisk flushes the frame's bytes to its backing block. Callers must keep
// the bytes stable while it runs: eviction holds the latch exclusively, and
// Close holds the pool lock with no frame pinned, so no fixer can reach them.
func (f *frame) writeToDisk(store disk.BlockStore) error {
	return newIoError("writing", f.pageID, store.WriteBlock(f.pageID, len(f.data), f.data))
}
