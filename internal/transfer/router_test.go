package transfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/blob"
	logx "crosspost/pkg/logx"
)

func newTestRouter(t *testing.T, chunkSize, directMax int64) (*Router, *blob.Store) {
	t.Helper()
	store := blob.NewStore(logx.Nop())
	return NewRouter(Config{ChunkSize: chunkSize, DirectMax: directMax}, store, logx.Nop()), store
}

func TestRouteTransferDirectBelowThreshold(t *testing.T) {
	router, store := newTestRouter(t, 4, 16)
	data := []byte("hello world")
	fileID := store.Put(blob.FileMeta{Name: "small.txt", Size: int64(len(data))}, data)

	route, err := router.RouteTransfer(fileID)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, route.Mode)
	assert.Equal(t, data, route.Bytes)
	assert.Equal(t, int64(len(data)), route.Size)
}

func TestRouteTransferChunkedAtThreshold(t *testing.T) {
	router, store := newTestRouter(t, 4, 16)
	data := make([]byte, 16) // exactly at direct_max
	fileID := store.Put(blob.FileMeta{Name: "big.bin", Size: 16}, data)

	route, err := router.RouteTransfer(fileID)
	require.NoError(t, err)
	assert.Equal(t, ModeChunked, route.Mode)
	assert.Nil(t, route.Bytes, "chunked routes carry no inline payload")
	assert.Equal(t, 4, route.TotalChunks)
	assert.Equal(t, int64(4), route.ChunkSize)
}

func TestRouteTransferDistributedCompleteAlwaysChunked(t *testing.T) {
	router, store := newTestRouter(t, 4, 1<<20)
	data := []byte("tiny")
	fileID := store.Put(blob.FileMeta{Name: "tiny.bin", Size: int64(len(data))}, data)

	require.True(t, store.MarkDistributedComplete(fileID))

	route, err := router.RouteTransfer(fileID)
	require.NoError(t, err)
	assert.Equal(t, ModeChunked, route.Mode, "a distributed-complete file is chunked regardless of size")
}

func TestRouteTransferUnknownFile(t *testing.T) {
	router, _ := newTestRouter(t, 4, 16)
	_, err := router.RouteTransfer("nope")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestMetadataCeilDivision(t *testing.T) {
	router, store := newTestRouter(t, 4, 16)
	fileID := store.Put(blob.FileMeta{Name: "odd.bin", Size: 9}, make([]byte, 9))

	meta, err := router.Metadata(fileID)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.TotalChunks) // ceil(9/4)
	assert.Equal(t, int64(9), meta.Size)
	assert.Equal(t, "odd.bin", meta.Name)
}

func TestChunkSlicing(t *testing.T) {
	router, store := newTestRouter(t, 4, 4)
	data := []byte("abcdefghij") // 10 bytes, chunks: abcd efgh ij
	fileID := store.Put(blob.FileMeta{Name: "seq.bin", Size: int64(len(data))}, data)

	c0, last, err := router.Chunk(fileID, 0, 0)
	require.NoError(t, err)
	assert.False(t, last)
	assert.True(t, bytes.Equal([]byte("abcd"), c0))

	c2, last, err := router.Chunk(fileID, 2, 0)
	require.NoError(t, err)
	assert.True(t, last, "the short trailing chunk is the last one")
	assert.True(t, bytes.Equal([]byte("ij"), c2))
}

func TestChunkSizeOverride(t *testing.T) {
	router, store := newTestRouter(t, 4, 4)
	data := []byte("abcdefghij")
	fileID := store.Put(blob.FileMeta{Name: "seq.bin", Size: int64(len(data))}, data)

	// A consumer that negotiated 5-byte chunks slices against its own size.
	c0, last, err := router.Chunk(fileID, 0, 5)
	require.NoError(t, err)
	assert.False(t, last)
	assert.True(t, bytes.Equal([]byte("abcde"), c0))

	c1, last, err := router.Chunk(fileID, 1, 5)
	require.NoError(t, err)
	assert.True(t, last)
	assert.True(t, bytes.Equal([]byte("fghij"), c1))

	// Index 2 exists at the configured size but not at the override.
	_, _, err = router.Chunk(fileID, 2, 5)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestChunkOutOfRange(t *testing.T) {
	router, store := newTestRouter(t, 4, 4)
	fileID := store.Put(blob.FileMeta{Name: "seq.bin", Size: 10}, make([]byte, 10))

	_, _, err := router.Chunk(fileID, 3, 0)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, _, err = router.Chunk(fileID, -1, 0)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultDirectMax, cfg.DirectMax)
}
