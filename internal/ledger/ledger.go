// Package ledger tracks the latest publish status per target.
//
// The ledger is the single user-visible source of truth: every job status
// transition lands here, is persisted, and is broadcast on the event bus so
// an observer UI can render partial progress live.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"crosspost/internal/eventbus"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// User-visible status values.
const (
	StatusQueued     = "queued"
	StatusPublishing = "publishing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// BatchEvent is the Data payload for batch_started/batch_completed events.
type BatchEvent struct {
	TargetIDs []string  `json:"target_ids"`
	At        time.Time `json:"at"`
}

// ResetEvent is the Data payload for ledger reset events.
type ResetEvent struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Ledger is a last-write-wins map from target id to its latest status.
//
// Concurrent writes for different targets never conflict; concurrent writes
// for the same target resolve to whichever lands last. Callers needing
// strict per-target ordering must serialize their own writes.
type Ledger struct {
	mu sync.Mutex

	records      map[string]storage.StatusRecord
	isPublishing bool

	store storage.Store // nil when persistence is disabled
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		records: map[string]storage.StatusRecord{},
		store:   store,
		bus:     bus,
		log:     log,
	}
}

// Load repopulates in-memory state from the durable snapshot, if present.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	snap, ok, err := l.store.LoadLedger(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	l.mu.Lock()
	l.isPublishing = snap.IsPublishing
	l.records = make(map[string]storage.StatusRecord, len(snap.Results))
	for _, r := range snap.Results {
		l.records[r.TargetID] = r
	}
	l.mu.Unlock()

	l.log.Debug("ledger loaded", logx.Int("records", len(snap.Results)), logx.Bool("is_publishing", snap.IsPublishing))
	return nil
}

// BeginBatch drops stale records for the targets being re-run, flips the
// publishing flag on, persists, and broadcasts batch_started.
func (l *Ledger) BeginBatch(ctx context.Context, targetIDs []string) {
	now := time.Now()

	l.mu.Lock()
	for _, id := range targetIDs {
		delete(l.records, id)
	}
	l.isPublishing = true
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.publish(eventbus.TypeBatchStarted, BatchEvent{TargetIDs: targetIDs, At: now})
}

// EndBatch flips the publishing flag off, persists, and broadcasts
// batch_completed.
func (l *Ledger) EndBatch(ctx context.Context, targetIDs []string) {
	now := time.Now()

	l.mu.Lock()
	l.isPublishing = false
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.publish(eventbus.TypeBatchCompleted, BatchEvent{TargetIDs: targetIDs, At: now})
}

// SetStatus overwrites the record for rec.TargetID (last-write-wins),
// persists the whole snapshot, and broadcasts the change.
func (l *Ledger) SetStatus(ctx context.Context, rec storage.StatusRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.records[rec.TargetID] = rec
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.publish(eventbus.TypeStatusChanged, rec)
}

// Get returns the latest record for a target, if any.
func (l *Ledger) Get(targetID string) (storage.StatusRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[targetID]
	return r, ok
}

// IsPublishing reports whether a batch is currently running.
func (l *Ledger) IsPublishing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isPublishing
}

// Snapshot returns a stable copy: results sorted by target id.
func (l *Ledger) Snapshot() storage.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Reset clears all records and the publishing flag, persists, and
// broadcasts a reset event carrying the reason.
func (l *Ledger) Reset(ctx context.Context, reason string) {
	now := time.Now()

	l.mu.Lock()
	l.records = map[string]storage.StatusRecord{}
	l.isPublishing = false
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.publish(eventbus.TypeLedgerReset, ResetEvent{Reason: reason, At: now})
	l.log.Info("ledger reset", logx.String("reason", reason))
}

func (l *Ledger) snapshotLocked() storage.LedgerSnapshot {
	results := make([]storage.StatusRecord, 0, len(l.records))
	for _, r := range l.records {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].TargetID < results[j].TargetID })
	return storage.LedgerSnapshot{IsPublishing: l.isPublishing, Results: results}
}

// persist is best-effort: a failed write is logged, never fatal, so status
// display keeps working even when the disk does not.
func (l *Ledger) persist(ctx context.Context, snap storage.LedgerSnapshot) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveLedger(ctx, snap); err != nil {
		l.log.Warn("ledger persist failed", logx.Err(err))
	}
}

func (l *Ledger) publish(typ string, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
