// Package blob holds binary payloads in memory and reassembles them from
// out-of-order chunk uploads.
package blob

import (
	"sync"
	"time"

	"github.com/google/uuid"

	logx "crosspost/pkg/logx"
)

// FileMeta is caller-supplied metadata for a stored file.
type FileMeta struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"type,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// StoredFile is an assembled payload plus metadata. Immutable once stored;
// mutations are whole-entry replace.
type StoredFile struct {
	ID           string
	Name         string
	Size         int64
	MimeType     string
	LastModified time.Time
	StoredAt     time.Time

	// DistributedComplete is flagged once a distributed download session
	// finished this file; such files are always served chunked afterwards.
	DistributedComplete bool

	Bytes []byte
}

// Store is the in-memory file map. Entry get/set is atomic under one lock,
// which is all the cross-job safety the callers rely on.
type Store struct {
	mu    sync.RWMutex
	files map[string]*StoredFile
	log   logx.Logger
}

func NewStore(log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{files: map[string]*StoredFile{}, log: log}
}

// Put stores an assembled payload in one shot and returns its id.
func (s *Store) Put(meta FileMeta, data []byte) string {
	id := uuid.NewString()
	s.putWithID(id, meta, data)
	return id
}

func (s *Store) putWithID(id string, meta FileMeta, data []byte) {
	f := &StoredFile{
		ID:           id,
		Name:         meta.Name,
		Size:         int64(len(data)),
		MimeType:     meta.MimeType,
		LastModified: meta.LastModified,
		StoredAt:     time.Now(),
		Bytes:        data,
	}
	s.mu.Lock()
	s.files[id] = f
	s.mu.Unlock()
}

// Get is a pure lookup.
func (s *Store) Get(id string) (*StoredFile, bool) {
	s.mu.RLock()
	f, ok := s.files[id]
	s.mu.RUnlock()
	s.log.Debug("blob get", logx.String("file_id", id), logx.Bool("hit", ok))
	return f, ok
}

// Delete removes bytes and metadata atomically (both or neither).
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.files[id]
	if ok {
		delete(s.files, id)
	}
	s.mu.Unlock()
	return ok
}

// MarkDistributedComplete flags a file as completed via a distributed
// download session. Whole-entry replace keeps readers race-free.
func (s *Store) MarkDistributedComplete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return false
	}
	cp := *f
	cp.DistributedComplete = true
	s.files[id] = &cp
	return true
}

// Len reports how many files are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// SweepExpired evicts files older than ttl. ttl <= 0 disables the sweep.
func (s *Store) SweepExpired(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	evicted := 0
	for id, f := range s.files {
		if f.StoredAt.Before(cutoff) {
			delete(s.files, id)
			evicted++
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.log.Info("blob sweep evicted files", logx.Int("count", evicted), logx.Duration("ttl", ttl))
	}
	return evicted
}
