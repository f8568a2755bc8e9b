package transfer

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"crosspost/internal/blob"
	"crosspost/internal/eventbus"
	logx "crosspost/pkg/logx"
)

type SessionStatus string

const (
	SessionDownloading SessionStatus = "downloading"
	SessionCompleted   SessionStatus = "completed"
)

// DownloadSession partitions one file's chunk range across consumers.
//
// Invariant: the union of all assigned index lists covers [0, TotalChunks)
// with no index assigned twice.
type DownloadSession struct {
	ID          string
	FileID      string
	TotalChunks int
	Status      SessionStatus

	assignment  map[string][]int
	completed   map[int]struct{}
	completedBy map[string]map[int]struct{} // per-consumer completed indices
}

// CoordinateResult is returned to every caller of Coordinate.
type CoordinateResult struct {
	SessionID   string
	TotalChunks int
	Assignment  map[string][]int
}

// Progress is a point-in-time completion view of a session.
type Progress struct {
	Complete        bool
	TotalChunks     int
	CompletedChunks int
}

// Coordinator hands out chunk assignments so collaborating consumers never
// re-fetch the same bytes. Sessions live until explicitly cleaned up; their
// lifetime tracks an active multi-consumer download, not a single request.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*DownloadSession
	byFile   map[string]string // fileID -> active session id

	router *Router
	store  *blob.Store
	bus    eventbus.Bus
	log    logx.Logger
}

func NewCoordinator(router *Router, store *blob.Store, bus eventbus.Bus, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		sessions: map[string]*DownloadSession{},
		byFile:   map[string]string{},
		router:   router,
		store:    store,
		bus:      bus,
		log:      log,
	}
}

// Coordinate assigns chunk ranges of fileID to consumerIDs.
//
// A second call for a file with an in-flight session augments that session:
// consumers not yet present receive the currently-unassigned chunk indices,
// split evenly. This keeps racing callers from spawning duplicate sessions.
func (c *Coordinator) Coordinate(fileID string, consumerIDs []string) (CoordinateResult, error) {
	if len(consumerIDs) == 0 {
		return CoordinateResult{}, ErrNoConsumers
	}

	meta, err := c.router.Metadata(fileID)
	if err != nil {
		return CoordinateResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sid, ok := c.byFile[fileID]; ok {
		if sess := c.sessions[sid]; sess != nil && sess.Status == SessionDownloading {
			c.augmentLocked(sess, consumerIDs)
			return c.resultLocked(sess), nil
		}
	}

	sess := &DownloadSession{
		ID:          uuid.NewString(),
		FileID:      fileID,
		TotalChunks: meta.TotalChunks,
		Status:      SessionDownloading,
		assignment:  partition(meta.TotalChunks, consumerIDs),
		completed:   map[int]struct{}{},
		completedBy: map[string]map[int]struct{}{},
	}
	if sess.TotalChunks == 0 {
		// Nothing to fetch; born completed.
		sess.Status = SessionCompleted
	}
	c.sessions[sess.ID] = sess
	c.byFile[fileID] = sess.ID

	c.log.Debug("download session opened",
		logx.String("session_id", sess.ID),
		logx.String("file_id", fileID),
		logx.Int("total_chunks", sess.TotalChunks),
		logx.Int("consumers", len(consumerIDs)),
	)
	return c.resultLocked(sess), nil
}

// augmentLocked assigns the currently-unassigned chunk indices to consumers
// that are not yet part of the session. Existing assignments never move.
func (c *Coordinator) augmentLocked(sess *DownloadSession, consumerIDs []string) {
	assigned := map[int]struct{}{}
	for _, idxs := range sess.assignment {
		for _, i := range idxs {
			assigned[i] = struct{}{}
		}
	}

	var newcomers []string
	for _, id := range consumerIDs {
		if _, ok := sess.assignment[id]; !ok {
			newcomers = append(newcomers, id)
		}
	}
	if len(newcomers) == 0 {
		return
	}

	var free []int
	for i := 0; i < sess.TotalChunks; i++ {
		if _, ok := assigned[i]; !ok {
			free = append(free, i)
		}
	}

	split := splitIndices(free, len(newcomers))
	for i, id := range newcomers {
		sess.assignment[id] = split[i]
	}

	c.log.Debug("download session augmented",
		logx.String("session_id", sess.ID),
		logx.Int("new_consumers", len(newcomers)),
		logx.Int("unassigned", len(free)),
	)
}

// MarkChunkComplete records that consumerID fetched chunk index.
//
// allComplete flips true exactly once: on the call that brings the global
// completed set to TotalChunks.
func (c *Coordinator) MarkChunkComplete(sessionID string, index int, consumerID string) (allComplete bool, err error) {
	c.mu.Lock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return false, ErrSessionNotFound
	}
	if index < 0 || index >= sess.TotalChunks {
		c.mu.Unlock()
		return false, ErrChunkOutOfRange
	}
	if _, ok := sess.assignment[consumerID]; !ok {
		c.mu.Unlock()
		return false, ErrUnknownConsumer
	}

	before := len(sess.completed)
	sess.completed[index] = struct{}{}
	set := sess.completedBy[consumerID]
	if set == nil {
		set = map[int]struct{}{}
		sess.completedBy[consumerID] = set
	}
	set[index] = struct{}{}

	justFinished := before < sess.TotalChunks && len(sess.completed) == sess.TotalChunks
	if justFinished {
		sess.Status = SessionCompleted
	}
	fileID := sess.FileID
	c.mu.Unlock()

	if justFinished {
		// Future routeTransfer calls serve this file chunked unconditionally.
		c.store.MarkDistributedComplete(fileID)
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionCompleted, Data: map[string]any{
				"session_id": sessionID,
				"file_id":    fileID,
			}})
		}
		c.log.Info("download session completed", logx.String("session_id", sessionID), logx.String("file_id", fileID))
	}
	return justFinished, nil
}

// ConsumerDone reports whether a consumer completed every index in its own
// assigned list. Chunks it fetched on another consumer's behalf don't count.
func (c *Coordinator) ConsumerDone(sessionID, consumerID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	idxs, ok := sess.assignment[consumerID]
	if !ok {
		return false, ErrUnknownConsumer
	}
	set := sess.completedBy[consumerID]
	for _, i := range idxs {
		if _, ok := set[i]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// CheckComplete reports session progress.
func (c *Coordinator) CheckComplete(sessionID string) (Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return Progress{}, ErrSessionNotFound
	}
	return Progress{
		Complete:        sess.Status == SessionCompleted,
		TotalChunks:     sess.TotalChunks,
		CompletedChunks: len(sess.completed),
	}, nil
}

// Cleanup removes a session. Sessions are never evicted by time.
func (c *Coordinator) Cleanup(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return false
	}
	delete(c.sessions, sessionID)
	if c.byFile[sess.FileID] == sessionID {
		delete(c.byFile, sess.FileID)
	}
	return true
}

func (c *Coordinator) resultLocked(sess *DownloadSession) CoordinateResult {
	cp := make(map[string][]int, len(sess.assignment))
	for id, idxs := range sess.assignment {
		out := make([]int, len(idxs))
		copy(out, idxs)
		cp[id] = out
	}
	return CoordinateResult{SessionID: sess.ID, TotalChunks: sess.TotalChunks, Assignment: cp}
}

// partition splits [0, total) across consumers in order: ceil-division,
// remainder going to earlier consumers, contiguous ranges. Deterministic
// for a given (total, consumer order).
func partition(total int, consumerIDs []string) map[string][]int {
	idxs := make([]int, total)
	for i := range idxs {
		idxs[i] = i
	}
	split := splitIndices(idxs, len(consumerIDs))
	out := make(map[string][]int, len(consumerIDs))
	for i, id := range consumerIDs {
		out[id] = split[i]
	}
	return out
}

// splitIndices divides idxs into n contiguous slices whose lengths differ by
// at most one, longer slices first.
func splitIndices(idxs []int, n int) [][]int {
	sort.Ints(idxs)
	out := make([][]int, n)
	if n <= 0 {
		return out
	}
	base := len(idxs) / n
	rem := len(idxs) % n
	pos := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		part := make([]int, size)
		copy(part, idxs[pos:pos+size])
		out[i] = part
		pos += size
	}
	return out
}
