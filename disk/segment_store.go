// Package disk implements the downward collaborator the buffer pool core treats
// as an external boundary: a segment-file store keyed by the high 16 bits of a
// page id, as described by the buffer pool's external interface.
package disk

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"bufpool/common"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
)

// BlockStore is the boundary a buffer frame calls through to read or write its
// bytes. It never interprets a page id beyond splitting it into a segment id and
// an in-segment page number.
type BlockStore interface {
	ReadBlock(pageID uint64, pageSize int, dest []byte) error
	WriteBlock(pageID uint64, pageSize int, src []byte) error
	Close() error
}

// SegmentID returns the segment a page belongs to: the high 16 bits of the page id.
func SegmentID(pageID uint64) uint16 {
	return uint16(pageID >> 48)
}

// InSegmentPageID returns the page's offset within its segment: the low 48 bits.
func InSegmentPageID(pageID uint64) uint64 {
	return pageID & ((1 << 48) - 1)
}

type segmentHandle struct {
	file *os.File
}

// SegmentStore is a BlockStore backed by one file per segment, named by the
// decimal string of the segment id, under a single data directory. Reads and
// writes against different segments do not block each other; only opening or
// closing the same segment's handle serializes.
type SegmentStore struct {
	dir string

	mu      sync.Mutex
	open    map[uint16]*segmentHandle
	opening common.KeyMutex[uint16]

	handleCache *ristretto.Cache[uint64, *segmentHandle]
}

var _ BlockStore = &SegmentStore{}

// NewSegmentStore creates or opens a segment store rooted at dir. handleCacheSize
// bounds how many segment file descriptors the handle cache holds; once exceeded,
// the cache's frequency-based policy (ristretto's, not strict LRU) picks a
// handle to drop, whose file is closed and reopened on its next access.
func NewSegmentStore(dir string, handleCacheSize int) (*SegmentStore, error) {
	if handleCacheSize <= 0 {
		handleCacheSize = common.DefaultHandleCacheSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment store: creating data dir %q: %w", dir, err)
	}

	s := &SegmentStore{
		dir:  dir,
		open: map[uint16]*segmentHandle{},
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *segmentHandle]{
		NumCounters: int64(handleCacheSize) * 10,
		MaxCost:     int64(handleCacheSize),
		BufferItems: 64,
		OnExit: func(h *segmentHandle) {
			s.mu.Lock()
			for id, cur := range s.open {
				if cur == h {
					delete(s.open, id)
					break
				}
			}
			s.mu.Unlock()
			h.file.Close()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("segment store: building handle cache: %w", err)
	}
	s.handleCache = cache

	log.Printf("disk: segment store opened at %s (handle cache bound to %s worth of descriptors)",
		dir, humanize.Comma(int64(handleCacheSize)))
	return s, nil
}

// segment returns an open handle for segmentID, opening its file on first access.
func (s *SegmentStore) segment(segmentID uint16) (*segmentHandle, error) {
	s.mu.Lock()
	if h, ok := s.open[segmentID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	release := s.opening.Lock(segmentID)
	defer release()

	// someone may have opened it while we waited for the per-segment lock
	s.mu.Lock()
	if h, ok := s.open[segmentID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	path := filepath.Join(s.dir, strconv.FormatUint(uint64(segmentID), 10))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment store: opening segment %d: %w", segmentID, err)
	}

	h := &segmentHandle{file: f}
	s.mu.Lock()
	s.open[segmentID] = h
	s.mu.Unlock()
	s.handleCache.Set(uint64(segmentID), h, 1)

	return h, nil
}

// ReadBlock reads exactly pageSize bytes for pageID into dest, or fails.
func (s *SegmentStore) ReadBlock(pageID uint64, pageSize int, dest []byte) error {
	h, err := s.segment(SegmentID(pageID))
	if err != nil {
		return err
	}

	offset := int64(InSegmentPageID(pageID)) * int64(pageSize)
	n, err := h.file.ReadAt(dest[:pageSize], offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("segment store: reading page %d at offset %d: %w", pageID, offset, err)
	}
	// a page that was never written reads back as zeroes past EOF.
	for i := n; i < pageSize; i++ {
		dest[i] = 0
	}
	return nil
}

// WriteBlock writes exactly pageSize bytes from src for pageID, or fails.
func (s *SegmentStore) WriteBlock(pageID uint64, pageSize int, src []byte) error {
	h, err := s.segment(SegmentID(pageID))
	if err != nil {
		return err
	}

	offset := int64(InSegmentPageID(pageID)) * int64(pageSize)
	n, err := h.file.WriteAt(src[:pageSize], offset)
	if err != nil {
		return fmt.Errorf("segment store: writing page %d at offset %d: %w", pageID, offset, err)
	}
	if n != pageSize {
		return fmt.Errorf("segment store: short write for page %d: wrote %d of %d bytes", pageID, n, pageSize)
	}
	return nil
}

// Close closes every currently open segment file. It does not flush any buffer
// pool state; callers must flush dirty frames before closing the store.
func (s *SegmentStore) Close() error {
	s.handleCache.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, h := range s.open {
		if err := h.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("segment store: closing segment %d: %w", id, err)
		}
		delete(s.open, id)
	}
	return firstErr
}
