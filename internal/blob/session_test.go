package blob

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "crosspost/pkg/logx"
)

func newTestManager(t *testing.T) (*SessionManager, *Store) {
	t.Helper()
	store := NewStore(logx.Nop())
	return NewSessionManager(store, time.Minute, nil, logx.Nop()), store
}

func TestInitIngestValidation(t *testing.T) {
	m, _ := newTestManager(t)

	for name, meta := range map[string]IngestMeta{
		"empty name": {Name: "", Size: 10, TotalChunks: 1},
		"zero size":  {Name: "f.bin", Size: 0, TotalChunks: 1},
		"no chunks":  {Name: "f.bin", Size: 10, TotalChunks: 0},
		"blank name": {Name: "   ", Size: 10, TotalChunks: 1},
		"neg size":   {Name: "f.bin", Size: -1, TotalChunks: 1},
		"neg chunks": {Name: "f.bin", Size: 10, TotalChunks: -2},
	} {
		_, err := m.InitIngest(meta)
		assert.ErrorIs(t, err, ErrInvalidMetadata, name)
	}
}

func TestWriteChunksOutOfOrder(t *testing.T) {
	m, store := newTestManager(t)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 9, TotalChunks: 3})
	require.NoError(t, err)

	complete, err := m.WriteChunk(fileID, 2, []byte("ghi"), false)
	require.NoError(t, err)
	assert.False(t, complete)

	complete, err = m.WriteChunk(fileID, 0, []byte("abc"), false)
	require.NoError(t, err)
	assert.False(t, complete)

	complete, err = m.WriteChunk(fileID, 1, []byte("def"), false)
	require.NoError(t, err)
	assert.True(t, complete, "assembly triggers once every chunk arrived")

	f, ok := store.Get(fileID)
	require.True(t, ok)
	assert.True(t, bytes.Equal([]byte("abcdefghi"), f.Bytes))
	assert.Equal(t, int64(9), f.Size)
	assert.Equal(t, "f.bin", f.Name)
}

func TestWriteChunkIdempotentOverwrite(t *testing.T) {
	m, store := newTestManager(t)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 6, TotalChunks: 2})
	require.NoError(t, err)

	_, err = m.WriteChunk(fileID, 0, []byte("xxx"), false)
	require.NoError(t, err)

	// A retried chunk overwrites; received count must not double.
	_, err = m.WriteChunk(fileID, 0, []byte("abc"), false)
	require.NoError(t, err)

	sess, ok := m.Session(fileID)
	require.True(t, ok)
	assert.Equal(t, 1, sess.Received())

	complete, err := m.WriteChunk(fileID, 1, []byte("def"), false)
	require.NoError(t, err)
	assert.True(t, complete)

	f, ok := store.Get(fileID)
	require.True(t, ok)
	assert.True(t, bytes.Equal([]byte("abcdef"), f.Bytes))
}

func TestIsLastWithMissingChunk(t *testing.T) {
	m, _ := newTestManager(t)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 9, TotalChunks: 3})
	require.NoError(t, err)

	_, err = m.WriteChunk(fileID, 0, []byte("abc"), false)
	require.NoError(t, err)

	// Caller claims the upload is done but chunk 1 never arrived.
	_, err = m.WriteChunk(fileID, 2, []byte("ghi"), true)
	var missing MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)
}

func TestSizeMismatchCorrectedToObserved(t *testing.T) {
	m, store := newTestManager(t)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 100, TotalChunks: 2})
	require.NoError(t, err)

	_, err = m.WriteChunk(fileID, 0, []byte("abc"), false)
	require.NoError(t, err)
	complete, err := m.WriteChunk(fileID, 1, []byte("def"), false)
	require.NoError(t, err)
	require.True(t, complete)

	f, ok := store.Get(fileID)
	require.True(t, ok)
	assert.Equal(t, int64(6), f.Size, "observed byte count wins over declared size")
}

func TestWriteChunkErrors(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.WriteChunk("nope", 0, []byte("x"), false)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 3, TotalChunks: 1})
	require.NoError(t, err)

	_, err = m.WriteChunk(fileID, 5, []byte("x"), false)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	_, err = m.WriteChunk(fileID, -1, []byte("x"), false)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	complete, err := m.WriteChunk(fileID, 0, []byte("abc"), false)
	require.NoError(t, err)
	require.True(t, complete)

	// The session lingers in its grace window; late retries get a clean
	// already-complete answer.
	_, err = m.WriteChunk(fileID, 0, []byte("abc"), false)
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestAssembledFileKeepsSessionFileID(t *testing.T) {
	m, store := newTestManager(t)

	fileID, err := m.InitIngest(IngestMeta{Name: "f.bin", Size: 3, TotalChunks: 1})
	require.NoError(t, err)

	complete, err := m.WriteChunk(fileID, 0, []byte("abc"), true)
	require.NoError(t, err)
	require.True(t, complete)

	_, ok := store.Get(fileID)
	assert.True(t, ok, "assembled file is addressable under the ingest file id")
}
