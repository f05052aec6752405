// Package buffer implements the fixed-capacity buffer pool: the page-fixing
// protocol, the FIFO/LRU replacement policy, and the two-level locking
// discipline that keeps I/O off the pool lock.
package buffer

import (
	"fmt"
	"log"
	"sync"

	"bufpool/common"
	"bufpool/disk"

	"github.com/dustin/go-humanize"
)

// Pool is a fixed-capacity cache of page-sized frames backed by a disk.BlockStore.
// One mutex (mu) protects the resident map, the replacement queues, and every
// frame's pin count and dirty flag. Each frame additionally owns a reader/writer
// latch over its own bytes. On the fix and eviction paths, mu is dropped before
// a caller waits on a frame's latch or performs I/O. Close does not drop it: it
// checks that no frame is pinned and then writes back dirty frames while still
// holding mu, without taking their latches.
type Pool struct {
	mu sync.Mutex

	pageSize  int
	pageCount int
	store     disk.BlockStore

	resident map[uint64]*frame
	queues   *replacementQueues
	closed   bool

	stats *common.Stats
}

// FrameHandle is a reference to a latched frame, returned by FixPage and
// consumed by the matching UnfixPage. The type does not prevent copying. It is
// inert: callers are responsible for calling UnfixPage exactly once per FixPage.
type FrameHandle struct {
	pool      *Pool
	frame     *frame
	exclusive bool
	released  bool
}

// Data returns the frame's byte buffer. It is valid to read or, if the handle
// was fixed exclusively, write until the handle is unfixed.
func (h *FrameHandle) Data() []byte {
	return h.frame.data
}

// PageID returns the page id this handle was fixed for.
func (h *FrameHandle) PageID() uint64 {
	return h.frame.pageID
}

// NewBufferPool constructs a pool of pageCount frames of pageSize bytes each,
// backed by store. Both parameters are fixed for the pool's lifetime. A
// pageSize of 0 falls back to common.DefaultPageSize.
func NewBufferPool(store disk.BlockStore, pageSize, pageCount int) *Pool {
	if pageSize <= 0 {
		pageSize = common.DefaultPageSize
	}

	log.Printf("buffer pool: %d frames x %s pages = %s resident budget",
		pageCount, humanize.Bytes(uint64(pageSize)), humanize.Bytes(uint64(pageSize*pageCount)))

	return &Pool{
		pageSize:  pageSize,
		pageCount: pageCount,
		store:     store,
		resident:  make(map[uint64]*frame),
		queues:    newReplacementQueues(),
		stats:     common.NewStats(),
	}
}

// FixPage resolves pageID to a resident frame, admitting or evicting as needed,
// and returns a handle whose latch is held in the requested mode. It fails with
// ErrBufferFull iff the pool is full and every resident frame is pinned, or with
// an *IoError if the backing store fails a read or write.
func (p *Pool) FixPage(pageID uint64, exclusive bool) (*FrameHandle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			panic(fmt.Sprintf("%v: FixPage called after Close", ErrUsage))
		}

		if fr, ok := p.resident[pageID]; ok {
			fr.pinCount++
			p.queues.promote(pageID)
			p.mu.Unlock()

			p.stats.Incr("hit")
			fr.acquire(exclusive)

			// fr may have been a brand-new frame still being filled in by a
			// miss/eviction that joined us on the latch; if its read failed,
			// it was rolled back out of residency while we were blocked.
			// Undo our pin and retry rather than hand out a stale frame.
			p.mu.Lock()
			if p.resident[pageID] != fr {
				fr.pinCount--
				p.mu.Unlock()
				fr.unlatch(exclusive)
				continue
			}
			p.mu.Unlock()

			return &FrameHandle{pool: p, frame: fr, exclusive: exclusive}, nil
		}

		if len(p.resident) < p.pageCount {
			fr := newFrame(pageID, p.pageSize)
			fr.pinCount = 1
			// latch before publishing into p.resident, so a racing hit blocks
			// on the latch instead of observing a half-filled frame.
			fr.acquire(true)
			p.resident[pageID] = fr
			p.queues.admit(pageID)
			p.mu.Unlock()

			p.stats.Incr("miss")
			return p.fillAndHandoff(fr, exclusive)
		}

		p.mu.Unlock()
		p.stats.Incr("miss")
		return p.evictAndFix(pageID, exclusive)
	}
}

// fillAndHandoff reads a freshly admitted frame's bytes from disk. The caller
// must already hold fr's latch exclusively, acquired before fr was published
// into p.resident (see FixPage and evictAndFix), so a racing hit blocks on the
// latch rather than observing a half-filled frame. On a read failure, the
// admission is rolled back — fr is removed from the resident map and queues,
// and its pin released — before the latch is dropped, so a hit that joined us
// and is blocked on that latch is guaranteed to see the rollback once it wakes
// and re-validates residency.
func (p *Pool) fillAndHandoff(fr *frame, exclusive bool) (*FrameHandle, error) {
	if err := fr.readFromDisk(p.store); err != nil {
		p.mu.Lock()
		if p.resident[fr.pageID] == fr {
			delete(p.resident, fr.pageID)
			p.queues.remove(fr.pageID)
		}
		fr.pinCount--
		p.mu.Unlock()
		fr.unlatch(true)
		return nil, err
	}

	if !exclusive {
		fr.unlatch(true)
		fr.acquire(false)
	}
	return &FrameHandle{pool: p, frame: fr, exclusive: exclusive}, nil
}

// evictAndFix is the full-pool path: it scans for an unpinned victim (FIFO then
// LRU, oldest first), flushes it if dirty, and reuses its slot for pageID. A
// victim whose write-back fails is left resident and dirty, and the next
// candidate is tried; if every candidate fails, the last I/O error is returned.
//
// The victim is pinned transiently while mu is dropped for its write-back, but
// that pin alone cannot stop a concurrent FixPage hit on the same page id from
// also pinning it in the meantime. So the swap is only finalized if the
// transient pin is still the only one outstanding once mu is re-acquired; if a
// concurrent hit got there first, this attempt backs off and picks a different
// candidate instead of deleting a frame someone else is now relying on.
func (p *Pool) evictAndFix(pageID uint64, exclusive bool) (*FrameHandle, error) {
	tried := map[uint64]bool{}
	var lastErr error

	for {
		p.mu.Lock()
		victimID, ok := p.queues.victim(func(id uint64) bool {
			return !tried[id] && p.resident[id].pinCount == 0
		})
		if !ok {
			p.mu.Unlock()
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrBufferFull
		}

		victim := p.resident[victimID]
		// pin transiently so no other eviction can pick the same victim while we
		// hold no lock during its write-back; re-validated below against a
		// concurrent hit before the swap is finalized.
		victim.pinCount++
		p.mu.Unlock()

		victim.acquire(true)
		var writeErr error
		var flushed bool
		if victim.dirty {
			if writeErr = victim.writeToDisk(p.store); writeErr == nil {
				flushed = true
			}
		}

		p.mu.Lock()
		if flushed {
			victim.dirty = false
		}

		if writeErr != nil {
			victim.pinCount--
			p.mu.Unlock()
			victim.unlatch(true)
			tried[victimID] = true
			lastErr = writeErr
			continue
		}

		if victim.pinCount != 1 {
			// someone else fixed this page while mu was dropped for the
			// write-back; let them keep it and pick another candidate.
			victim.pinCount--
			p.mu.Unlock()
			victim.unlatch(true)
			continue
		}

		delete(p.resident, victimID)
		p.queues.remove(victimID)

		fresh := newFrame(pageID, p.pageSize)
		fresh.pinCount = 1
		// latch before publishing into p.resident, same as the not-full-miss
		// path: a racing hit must block on the latch, not observe a
		// half-filled frame.
		fresh.acquire(true)
		p.resident[pageID] = fresh
		p.queues.admit(pageID)
		p.mu.Unlock()

		victim.unlatch(true)

		return p.fillAndHandoff(fresh, exclusive)
	}
}

// UnfixPage releases handle's latch, OR-ing dirty into the frame's dirty flag,
// and decrements the frame's pin count. A page still on the FIFO queue stays
// there; a page on the LRU queue moves to its tail.
func (p *Pool) UnfixPage(h *FrameHandle, dirty bool) {
	if h == nil || h.pool != p {
		panic(fmt.Sprintf("%v: handle was not issued by this pool", ErrUsage))
	}
	if h.released {
		panic(fmt.Sprintf("%v: handle already unfixed", ErrUsage))
	}

	p.mu.Lock()
	fr := h.frame
	if fr.pinCount <= 0 {
		p.mu.Unlock()
		panic(fmt.Sprintf("buffer pool: UnfixPage called while pin count is <= 0 for page %d", fr.pageID))
	}

	fr.dirty = fr.dirty || dirty
	fr.pinCount--
	p.queues.touchOnUnfix(fr.pageID)
	p.mu.Unlock()

	fr.unlatch(h.exclusive)
	h.released = true
}

// GetFifoList returns a snapshot of the FIFO queue, oldest first. It is a
// point-in-time copy taken under the pool lock; fixes made after it returns
// are not reflected in it.
func (p *Pool) GetFifoList() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queues.fifoSnapshot()
}

// GetLruList returns a snapshot of the LRU queue, least- to most-recently used.
func (p *Pool) GetLruList() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queues.lruSnapshot()
}

// Stats exposes the pool's running hit/miss counters for diagnostics.
func (p *Pool) Stats() *common.Stats {
	return p.stats
}

// Close writes back every dirty resident frame and refuses further fixes. It
// panics with ErrUsage if any frame is still pinned, matching the caller
// contract that no fixes are outstanding at shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	for id, fr := range p.resident {
		if fr.pinCount > 0 {
			panic(fmt.Sprintf("%v: page %d still pinned at shutdown", ErrUsage, id))
		}
	}

	var flushed uint64
	for _, fr := range p.resident {
		if !fr.dirty {
			continue
		}
		if err := fr.writeToDisk(p.store); err != nil {
			return err
		}
		fr.dirty = false
		flushed += uint64(len(fr.data))
	}

	p.closed = true
	log.Printf("buffer pool: shutdown flushed %s across %d resident frames", humanize.Bytes(flushed), len(p.resident))
	return nil
}
