package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "crosspost/pkg/logx"
)

func TestStorePutGetDelete(t *testing.T) {
	store := NewStore(logx.Nop())

	id := store.Put(FileMeta{Name: "a.bin", Size: 3, MimeType: "application/octet-stream"}, []byte("abc"))
	require.NotEmpty(t, id)

	f, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "a.bin", f.Name)
	assert.Equal(t, []byte("abc"), f.Bytes)
	assert.False(t, f.DistributedComplete)

	assert.True(t, store.Delete(id))
	_, ok = store.Get(id)
	assert.False(t, ok)
	assert.False(t, store.Delete(id))
}

func TestMarkDistributedComplete(t *testing.T) {
	store := NewStore(logx.Nop())
	id := store.Put(FileMeta{Name: "a.bin", Size: 3}, []byte("abc"))

	assert.True(t, store.MarkDistributedComplete(id))
	f, ok := store.Get(id)
	require.True(t, ok)
	assert.True(t, f.DistributedComplete)

	assert.False(t, store.MarkDistributedComplete("nope"))
}

func TestSweepExpired(t *testing.T) {
	store := NewStore(logx.Nop())
	old := store.Put(FileMeta{Name: "old.bin", Size: 1}, []byte("x"))
	fresh := store.Put(FileMeta{Name: "fresh.bin", Size: 1}, []byte("y"))

	// Backdate one entry past the TTL.
	store.mu.Lock()
	store.files[old].StoredAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	n := store.SweepExpired(time.Hour)
	assert.Equal(t, 1, n)

	_, ok := store.Get(old)
	assert.False(t, ok)
	_, ok = store.Get(fresh)
	assert.True(t, ok)
}
