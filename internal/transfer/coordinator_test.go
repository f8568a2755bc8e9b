package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/blob"
	logx "crosspost/pkg/logx"
)

func newTestCoordinator(t *testing.T, chunkSize int64) (*Coordinator, *blob.Store) {
	t.Helper()
	store := blob.NewStore(logx.Nop())
	router := NewRouter(Config{ChunkSize: chunkSize, DirectMax: 1 << 30}, store, logx.Nop())
	return NewCoordinator(router, store, nil, logx.Nop()), store
}

func putFile(t *testing.T, store *blob.Store, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return store.Put(blob.FileMeta{Name: "payload.bin", Size: int64(size)}, data)
}

func TestPartitionContiguousWithRemainder(t *testing.T) {
	got := partition(10, []string{"a", "b", "c"})

	// 10 chunks over 3 consumers: 4/3/3, remainder to the earlier consumers,
	// each range contiguous.
	assert.Equal(t, []int{0, 1, 2, 3}, got["a"])
	assert.Equal(t, []int{4, 5, 6}, got["b"])
	assert.Equal(t, []int{7, 8, 9}, got["c"])
}

func TestPartitionDeterministic(t *testing.T) {
	first := partition(17, []string{"x", "y", "z"})
	second := partition(17, []string{"x", "y", "z"})
	assert.Equal(t, first, second)
}

func TestPartitionCoversAllChunksOnce(t *testing.T) {
	for _, tc := range []struct {
		total     int
		consumers []string
	}{
		{1, []string{"a"}},
		{2, []string{"a", "b", "c"}},
		{7, []string{"a", "b"}},
		{100, []string{"a", "b", "c", "d", "e", "f", "g"}},
	} {
		got := partition(tc.total, tc.consumers)
		seen := map[int]int{}
		for _, idxs := range got {
			for _, i := range idxs {
				seen[i]++
			}
		}
		require.Len(t, seen, tc.total)
		for i := 0; i < tc.total; i++ {
			assert.Equal(t, 1, seen[i], "chunk %d assigned %d times", i, seen[i])
		}
	}
}

func TestCoordinateOpensSession(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 10) // 3 chunks

	res, err := coord.Coordinate(fileID, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 3, res.TotalChunks)
	assert.Equal(t, []int{0, 1}, res.Assignment["a"])
	assert.Equal(t, []int{2}, res.Assignment["b"])
}

func TestCoordinateRequiresConsumers(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 10)

	_, err := coord.Coordinate(fileID, nil)
	assert.ErrorIs(t, err, ErrNoConsumers)
}

func TestCoordinateUnknownFile(t *testing.T) {
	coord, _ := newTestCoordinator(t, 4)
	_, err := coord.Coordinate("nope", []string{"a"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestCoordinateAugmentsInFlightSession(t *testing.T) {
	coord, store := newTestCoordinator(t, 1)
	fileID := putFile(t, store, 10)

	first, err := coord.Coordinate(fileID, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, first.Assignment["a"])

	// A finishes half of its range, then a newcomer shows up.
	for i := 0; i < 5; i++ {
		_, err := coord.MarkChunkComplete(first.SessionID, i, "a")
		require.NoError(t, err)
	}

	second, err := coord.Coordinate(fileID, []string{"a", "b"})
	require.NoError(t, err)

	// Same session, not a new one.
	assert.Equal(t, first.SessionID, second.SessionID)
	// A's assignment never moves; B gets nothing because every chunk is
	// still assigned to A (completion does not unassign).
	assert.Equal(t, first.Assignment["a"], second.Assignment["a"])
	assert.Empty(t, second.Assignment["b"])
}

func TestCoordinateZeroChunksBornCompleted(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := store.Put(blob.FileMeta{Name: "empty.bin", Size: 0}, nil)

	res, err := coord.Coordinate(fileID, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalChunks)

	progress, err := coord.CheckComplete(res.SessionID)
	require.NoError(t, err)
	assert.True(t, progress.Complete)
}

func TestMarkChunkCompleteFlipsExactlyOnce(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 12) // 3 chunks

	res, err := coord.Coordinate(fileID, []string{"a"})
	require.NoError(t, err)

	all, err := coord.MarkChunkComplete(res.SessionID, 0, "a")
	require.NoError(t, err)
	assert.False(t, all)

	all, err = coord.MarkChunkComplete(res.SessionID, 1, "a")
	require.NoError(t, err)
	assert.False(t, all)

	all, err = coord.MarkChunkComplete(res.SessionID, 2, "a")
	require.NoError(t, err)
	assert.True(t, all, "the finishing mark must report allComplete")

	// Re-marking after completion never reports allComplete again.
	all, err = coord.MarkChunkComplete(res.SessionID, 2, "a")
	require.NoError(t, err)
	assert.False(t, all)

	f, ok := store.Get(fileID)
	require.True(t, ok)
	assert.True(t, f.DistributedComplete)
}

func TestMarkChunkCompleteValidation(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 12)

	res, err := coord.Coordinate(fileID, []string{"a"})
	require.NoError(t, err)

	_, err = coord.MarkChunkComplete("nope", 0, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = coord.MarkChunkComplete(res.SessionID, 99, "a")
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = coord.MarkChunkComplete(res.SessionID, 0, "stranger")
	assert.ErrorIs(t, err, ErrUnknownConsumer)
}

func TestConsumerDone(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 16) // 4 chunks, 2 each

	res, err := coord.Coordinate(fileID, []string{"a", "b"})
	require.NoError(t, err)

	done, err := coord.ConsumerDone(res.SessionID, "a")
	require.NoError(t, err)
	assert.False(t, done)

	for _, i := range res.Assignment["a"] {
		_, err := coord.MarkChunkComplete(res.SessionID, i, "a")
		require.NoError(t, err)
	}

	done, err = coord.ConsumerDone(res.SessionID, "a")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = coord.ConsumerDone(res.SessionID, "b")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestConsumerDoneTracksOwnAssignmentOnly(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 16) // 4 chunks: a=[0,1], b=[2,3]

	res, err := coord.Coordinate(fileID, []string{"a", "b"})
	require.NoError(t, err)

	// "a" fetches b's chunks on its behalf; that earns "a" no credit.
	for _, i := range res.Assignment["b"] {
		_, err := coord.MarkChunkComplete(res.SessionID, i, "a")
		require.NoError(t, err)
	}
	done, err := coord.ConsumerDone(res.SessionID, "a")
	require.NoError(t, err)
	assert.False(t, done)

	// "b" marking its own chunks completes it even though the indices were
	// already globally complete.
	for _, i := range res.Assignment["b"] {
		_, err := coord.MarkChunkComplete(res.SessionID, i, "b")
		require.NoError(t, err)
	}
	done, err = coord.ConsumerDone(res.SessionID, "b")
	require.NoError(t, err)
	assert.True(t, done)

	// Duplicate marks of a consumer's own chunk still count toward it.
	for _, i := range res.Assignment["a"] {
		_, err := coord.MarkChunkComplete(res.SessionID, i, "a")
		require.NoError(t, err)
		_, err = coord.MarkChunkComplete(res.SessionID, i, "a")
		require.NoError(t, err)
	}
	done, err = coord.ConsumerDone(res.SessionID, "a")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCleanupFreesFileForNewSession(t *testing.T) {
	coord, store := newTestCoordinator(t, 4)
	fileID := putFile(t, store, 12)

	first, err := coord.Coordinate(fileID, []string{"a"})
	require.NoError(t, err)

	assert.True(t, coord.Cleanup(first.SessionID))
	assert.False(t, coord.Cleanup(first.SessionID))

	_, err = coord.CheckComplete(first.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	second, err := coord.Coordinate(fileID, []string{"b"})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}
