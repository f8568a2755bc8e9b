package blob

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/eventbus"
	logx "crosspost/pkg/logx"
)

// DefaultSessionGrace is how long a completed session lingers so duplicate
// trailing chunk retries get a clean "already complete" answer instead of
// resurrecting a finished upload.
const DefaultSessionGrace = 60 * time.Second

// IngestMeta is the metadata required to start a chunked upload.
type IngestMeta struct {
	Name         string
	Size         int64
	MimeType     string
	LastModified time.Time
	TotalChunks  int
}

// UploadSession reassembles one file from out-of-order chunks.
type UploadSession struct {
	FileID      string
	Meta        IngestMeta
	TotalChunks int

	chunks   map[int][]byte
	received int
	complete bool
}

// Received reports how many distinct chunk indices have been written.
func (u *UploadSession) Received() int { return u.received }

// Complete reports whether the session has been assembled.
func (u *UploadSession) Complete() bool { return u.complete }

// SessionManager owns upload sessions and publishes assembled files into
// the Store. Session lifecycle is explicit: create, complete, evict after a
// grace window.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession

	store *Store
	grace time.Duration
	bus   eventbus.Bus
	log   logx.Logger
}

func NewSessionManager(store *Store, grace time.Duration, bus eventbus.Bus, log logx.Logger) *SessionManager {
	if grace <= 0 {
		grace = DefaultSessionGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SessionManager{
		sessions: map[string]*UploadSession{},
		store:    store,
		grace:    grace,
		bus:      bus,
		log:      log,
	}
}

// InitIngest validates metadata, generates a file id, and opens a session.
func (m *SessionManager) InitIngest(meta IngestMeta) (string, error) {
	if strings.TrimSpace(meta.Name) == "" || meta.Size <= 0 || meta.TotalChunks <= 0 {
		return "", ErrInvalidMetadata
	}

	id := uuid.NewString()
	sess := &UploadSession{
		FileID:      id,
		Meta:        meta,
		TotalChunks: meta.TotalChunks,
		chunks:      map[int][]byte{},
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Debug("ingest session opened",
		logx.String("file_id", id),
		logx.String("name", meta.Name),
		logx.Int64("size", meta.Size),
		logx.Int("total_chunks", meta.TotalChunks),
	)
	return id, nil
}

// WriteChunk stores data at index. Re-sending the same index overwrites,
// so a retried chunk is harmless. Assembly triggers once every declared
// chunk arrived or the caller flags the last chunk.
//
// Returns complete=true on the write that finished assembly.
func (m *SessionManager) WriteChunk(fileID string, index int, data []byte, isLast bool) (complete bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[fileID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if sess.complete {
		return false, ErrSessionComplete
	}
	if index < 0 || index >= sess.TotalChunks {
		return false, ErrChunkOutOfRange
	}

	if _, dup := sess.chunks[index]; !dup {
		sess.received++
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	sess.chunks[index] = buf

	if sess.received == sess.TotalChunks || isLast {
		if err := m.assembleLocked(sess); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// assembleLocked concatenates chunks in index order and publishes the file.
// Caller holds m.mu.
func (m *SessionManager) assembleLocked(sess *UploadSession) error {
	total := int64(0)
	for i := 0; i < sess.TotalChunks; i++ {
		c, ok := sess.chunks[i]
		if !ok {
			return MissingChunkError{Index: i}
		}
		total += int64(len(c))
	}

	out := make([]byte, 0, total)
	for i := 0; i < sess.TotalChunks; i++ {
		out = append(out, sess.chunks[i]...)
	}

	meta := FileMeta{
		Name:         sess.Meta.Name,
		Size:         sess.Meta.Size,
		MimeType:     sess.Meta.MimeType,
		LastModified: sess.Meta.LastModified,
	}
	if int64(len(out)) != sess.Meta.Size {
		// Declared size loses to observed bytes; a mismatch is worth a log
		// line but not a failed upload.
		m.log.Warn("assembled size differs from declared",
			logx.String("file_id", sess.FileID),
			logx.Int64("declared", sess.Meta.Size),
			logx.Int64("observed", int64(len(out))),
		)
		meta.Size = int64(len(out))
	}

	m.store.putWithID(sess.FileID, meta, out)
	sess.complete = true
	sess.chunks = nil

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeFileAssembled, Data: map[string]any{
			"file_id": sess.FileID,
			"size":    int64(len(out)),
		}})
	}
	m.log.Info("file assembled", logx.String("file_id", sess.FileID), logx.Int64("size", int64(len(out))))

	// Evict the finished session after the grace window.
	id := sess.FileID
	time.AfterFunc(m.grace, func() { m.evict(id) })
	return nil
}

func (m *SessionManager) evict(fileID string) {
	m.mu.Lock()
	sess, ok := m.sessions[fileID]
	if ok && sess.complete {
		delete(m.sessions, fileID)
	}
	m.mu.Unlock()
	if ok {
		m.log.Debug("ingest session evicted", logx.String("file_id", fileID))
	}
}

// Session returns the live session for a file id, if any.
func (m *SessionManager) Session(fileID string) (*UploadSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[fileID]
	return s, ok
}
