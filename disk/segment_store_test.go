package disk

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SegmentStore {
	dir := filepath.Join(t.TempDir(), uuid.NewString())
	s, err := NewSegmentStore(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSegmentID_SplitsHighAndLowBits(t *testing.T) {
	pageID := uint64(5)<<48 | 7
	assert.Equal(t, uint16(5), SegmentID(pageID))
	assert.Equal(t, uint64(7), InSegmentPageID(pageID))
}

func TestSegmentStore_WriteThenReadRoundTrips(t *testing.T) {
	s := newTestStore(t)

	pageID := uint64(3)<<48 | 2
	want := []byte("ABCD")
	require.NoError(t, s.WriteBlock(pageID, len(want), want))

	got := make([]byte, len(want))
	require.NoError(t, s.ReadBlock(pageID, len(got), got))
	assert.Equal(t, want, got)
}

func TestSegmentStore_UnwrittenPageReadsAsZero(t *testing.T) {
	s := newTestStore(t)

	got := make([]byte, 8)
	require.NoError(t, s.ReadBlock(uint64(9)<<48|100, len(got), got))
	assert.Equal(t, make([]byte, 8), got)
}

func TestSegmentStore_DistinctSegmentsAreDistinctFiles(t *testing.T) {
	s := newTestStore(t)

	a := []byte("seg0")
	b := []byte("seg1")
	require.NoError(t, s.WriteBlock(0, len(a), a))
	require.NoError(t, s.WriteBlock(uint64(1)<<48, len(b), b))

	gotA := make([]byte, len(a))
	gotB := make([]byte, len(b))
	require.NoError(t, s.ReadBlock(0, len(gotA), gotA))
	require.NoError(t, s.ReadBlock(uint64(1)<<48, len(gotB), gotB))

	assert.Equal(t, a, gotA)
	assert.Equal(t, b, gotB)
}

func TestSegmentStore_HandleCacheEvictionStillServesReads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), uuid.NewString())
	s, err := NewSegmentStore(dir, 1) // force eviction after every new segment
	require.NoError(t, err)
	defer s.Close()

	for seg := uint16(0); seg < 8; seg++ {
		pageID := uint64(seg) << 48
		data := []byte{byte(seg), byte(seg + 1)}
		require.NoError(t, s.WriteBlock(pageID, len(data), data))
	}

	for seg := uint16(0); seg < 8; seg++ {
		pageID := uint64(seg) << 48
		got := make([]byte, 2)
		require.NoError(t, s.ReadBlock(pageID, len(got), got))
		assert.Equal(t, []byte{byte(seg), byte(seg + 1)}, got)
	}
}
