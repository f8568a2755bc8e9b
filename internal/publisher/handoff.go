package publisher

import (
	"sync"
	"time"

	"crosspost/internal/host"
	"crosspost/internal/target"
)

// Handoff stages.
const (
	StageAwaitingSecondary = "awaiting-secondary"
	StageInjecting         = "injecting-secondary"
	StageDelivered         = "delivered"
	StageFailed            = "failed"
)

// HandoffPayload carries a pending post from a multi-stage job's entry
// context to the secondary context that appears later.
//
// Written by exactly one job; read and mutated exactly once by the
// notification path. On delivery failure it stays in the store for
// diagnostic inspection.
type HandoffPayload struct {
	TargetID string
	Target   target.Target
	Title    string
	Body     string
	FileIDs  []string

	// Stage is guarded by the owning HandoffStore's mutex; mutate it only
	// through setStage or the claim path.
	Stage string

	// EntryContext is the first-stage context, torn down (best effort) when
	// the secondary context appears.
	EntryContext host.Context

	CreatedAt time.Time

	// done receives the delivery outcome exactly once.
	done chan error
}

// HandoffStore is ephemeral keyed storage for pending handoffs.
type HandoffStore struct {
	mu sync.Mutex
	m  map[string]*HandoffPayload
}

func NewHandoffStore() *HandoffStore {
	return &HandoffStore{m: map[string]*HandoffPayload{}}
}

func (s *HandoffStore) Put(p *HandoffPayload) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.m[p.TargetID] = p
	s.mu.Unlock()
}

func (s *HandoffStore) Get(targetID string) (*HandoffPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[targetID]
	return p, ok
}

func (s *HandoffStore) Delete(targetID string) {
	s.mu.Lock()
	delete(s.m, targetID)
	s.mu.Unlock()
}

func (s *HandoffStore) setStage(targetID, stage string) {
	s.mu.Lock()
	if p, ok := s.m[targetID]; ok {
		p.Stage = stage
	}
	s.mu.Unlock()
}

func (s *HandoffStore) stage(targetID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.m[targetID]; ok {
		return p.Stage
	}
	return ""
}

// Len reports how many handoffs are pending or retained.
func (s *HandoffStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
