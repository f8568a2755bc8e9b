// Package publisher fans one post out to many targets, one isolated job per
// target, under bounded concurrency, and drives the multi-stage handoff
// machine for targets whose submission surface sits behind an entry context.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"crosspost/internal/host"
	"crosspost/internal/ledger"
	"crosspost/internal/storage"
	"crosspost/internal/target"
	logx "crosspost/pkg/logx"
)

// Agent script identifiers resolved by the host agent.
const (
	agentEntry    = "agents/entry"
	agentDelivery = "agents/delivery"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	targets []target.Target
	limiter *rate.Limiter

	host host.Host
	led  *ledger.Ledger
	log  logx.Logger

	handoffs *HandoffStore

	runMu    sync.Mutex
	running  map[string]*Job
	lastPost map[string]target.Post

	rngMu sync.Mutex
	rng   *rand.Rand

	unsub   func()
	started bool
}

func New(cfg Config, h host.Host, led *ledger.Ledger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		host:     h,
		led:      led,
		log:      log,
		handoffs: NewHandoffStore(),
		running:  map[string]*Job{},
		lastPost: map[string]target.Post{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.applyLimiter()
	return s
}

// Apply swaps tuning knobs and the target catalog at runtime.
func (s *Service) Apply(cfg Config, targets []target.Target) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.targets = targets
	s.applyLimiter()
	s.mu.Unlock()
}

// SetTargets replaces the target catalog.
func (s *Service) SetTargets(targets []target.Target) {
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

func (s *Service) applyLimiter() {
	if rps := s.cfg.OpenRatePerSec; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	} else {
		s.limiter = nil
	}
}

// Start subscribes to host context-lifecycle notifications; these, not
// polling, advance multi-stage jobs waiting on their secondary context.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.unsub = s.host.Notify(func(n host.Notification) {
		s.onNotification(ctx, n)
	})
	s.log.Info("publisher started", logx.Int("max_concurrency", s.cfg.MaxConcurrency))
}

func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.log.Info("publisher stopped")
}

// Targets returns the current catalog.
func (s *Service) Targets() []target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]target.Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Running lists target ids with an in-flight job. Mostly for diagnostics.
func (s *Service) Running() []string {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	out := make([]string, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	return out
}

// Handoffs exposes the handoff store (diagnostics and tests).
func (s *Service) Handoffs() *HandoffStore { return s.handoffs }

// ExecuteBatch runs one job per target id, in groups of at most
// MaxConcurrency, with jittered starts and a fixed pause between groups.
//
// One job's failure never aborts its siblings; the batch always runs to
// completion and per-target outcomes land in the ledger.
func (s *Service) ExecuteBatch(ctx context.Context, targetIDs []string, post target.Post) error {
	s.mu.Lock()
	cfg := s.cfg
	catalog := s.targets
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}

	var resolved []target.Target
	var unknown []string
	for _, id := range targetIDs {
		t, ok := target.ByID(catalog, id)
		if ok {
			resolved = append(resolved, t)
		} else {
			unknown = append(unknown, id)
		}
	}

	s.runMu.Lock()
	for _, t := range resolved {
		s.lastPost[t.ID] = post
	}
	s.runMu.Unlock()

	s.led.BeginBatch(ctx, targetIDs)
	s.log.Info("batch started", logx.Int("targets", len(resolved)), logx.Int("unknown", len(unknown)))

	for _, id := range unknown {
		s.led.SetStatus(ctx, storage.StatusRecord{
			TargetID: id,
			Status:   ledger.StatusFailed,
			Message:  ErrUnknownTarget.Error(),
		})
	}

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	groups := groupTargets(resolved, cfg.MaxConcurrency)
	for gi, group := range groups {
		var wg sync.WaitGroup
		for i, t := range group {
			wg.Add(1)
			delay := s.jitter(cfg, i)
			go func(t target.Target, delay time.Duration) {
				defer wg.Done()
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)
				// Job errors are already projected into the ledger;
				// siblings keep going regardless.
				_ = s.ExecuteJob(ctx, t, post)
			}(t, delay)
		}
		wg.Wait()

		if gi < len(groups)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.GroupPause):
			}
		}
	}

	s.led.EndBatch(ctx, targetIDs)
	s.log.Info("batch completed", logx.Int("targets", len(resolved)))
	return nil
}

// Retry re-runs a single target with the last stored content payload. The
// endpoint is re-resolved from that content's media type.
func (s *Service) Retry(ctx context.Context, targetID string) error {
	s.mu.Lock()
	cfg := s.cfg
	catalog := s.targets
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	t, ok := target.ByID(catalog, targetID)
	if !ok {
		return ErrUnknownTarget
	}

	s.runMu.Lock()
	post, ok := s.lastPost[targetID]
	s.runMu.Unlock()
	if !ok {
		return fmt.Errorf("no previous content for target %s", targetID)
	}
	return s.ExecuteJob(ctx, t, post)
}

// ExecuteJob runs the single-target state machine. The target id is held in
// the running set for the job's lifetime and released on every exit path.
func (s *Service) ExecuteJob(ctx context.Context, t target.Target, post target.Post) error {
	job := &Job{Target: t, Post: post, Status: JobQueued, StartedAt: time.Now()}

	s.runMu.Lock()
	if _, busy := s.running[t.ID]; busy {
		s.runMu.Unlock()
		// Known gap: two simultaneously-open contexts for one target are
		// not reconciled; we refuse the second job instead.
		return ErrAlreadyRunning
	}
	s.running[t.ID] = job
	s.lastPost[t.ID] = post
	s.runMu.Unlock()

	defer func() {
		s.runMu.Lock()
		delete(s.running, t.ID)
		s.runMu.Unlock()
	}()

	var err error
	if t.MultiStage {
		err = s.runMultiStage(ctx, job)
	} else {
		err = s.runSingleStage(ctx, job)
	}
	if err != nil {
		job.Status = JobFailed
		job.LastMsg = err.Error()
		s.led.SetStatus(ctx, storage.StatusRecord{
			TargetID: t.ID,
			Status:   ledger.StatusFailed,
			Message:  err.Error(),
		})
		s.log.Warn("job failed", logx.String("target", t.ID), logx.Err(err))
	}
	return err
}

func (s *Service) runSingleStage(ctx context.Context, job *Job) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	t := job.Target

	endpoint := t.ResolveEndpoint(job.Post)

	job.Status = JobOpening
	s.led.SetStatus(ctx, storage.StatusRecord{
		TargetID: t.ID,
		Status:   ledger.StatusPublishing,
		Message:  "opening " + endpoint,
	})

	hc, err := s.openContext(ctx, cfg, endpoint)
	if err != nil {
		return fmt.Errorf("open %s: %w", endpoint, err)
	}
	// The context is deliberately left open on success so a human can
	// confirm the submission; it is not torn down on failure either (no
	// rollback, per the cancellation model).

	job.Status = JobAwaitingHandshake
	if err := s.handshake(ctx, cfg, hc); err != nil {
		return err
	}

	job.Status = JobDelivering
	payload, err := json.Marshal(job.Post)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	reply, err := hc.Send(ctx, host.Message{Action: host.ActionDeliver, TargetID: t.ID, Payload: payload})
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	if !reply.Success {
		return fmt.Errorf("deliver: %s", replyError(reply))
	}

	// Let asynchronous field population finish before declaring ready.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.Settle):
	}

	job.Status = JobReady
	s.led.SetStatus(ctx, storage.StatusRecord{
		TargetID:   t.ID,
		Status:     ledger.StatusReady,
		Message:    "content placed; awaiting manual confirmation",
		PublishURL: endpoint,
	})
	s.log.Info("job ready", logx.String("target", t.ID), logx.String("endpoint", endpoint))
	return nil
}

func (s *Service) runMultiStage(ctx context.Context, job *Job) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	t := job.Target

	if t.HandoffMarker == "" {
		return ErrNotMultiStage
	}

	endpoint := t.ResolveEndpoint(job.Post)

	job.Status = JobOpening
	s.led.SetStatus(ctx, storage.StatusRecord{
		TargetID: t.ID,
		Status:   ledger.StatusPublishing,
		Message:  "opening entry context " + endpoint,
	})

	entry, err := s.openContext(ctx, cfg, endpoint)
	if err != nil {
		return fmt.Errorf("open entry %s: %w", endpoint, err)
	}

	payload := &HandoffPayload{
		TargetID:     t.ID,
		Target:       t,
		Title:        job.Post.Title,
		Body:         job.Post.Body,
		FileIDs:      job.Post.FileIDs,
		Stage:        StageAwaitingSecondary,
		EntryContext: entry,
		done:         make(chan error, 1),
	}
	s.handoffs.Put(payload)

	if err := entry.InjectAgent(ctx, agentEntry); err != nil {
		return fmt.Errorf("inject entry agent: %w", err)
	}

	job.Status = JobAwaitingHandshake
	if err := s.handshake(ctx, cfg, entry); err != nil {
		return err
	}

	// Kick the entry context toward the real editor. The trigger differs
	// between article and media variants of the same target.
	reply, err := entry.Send(ctx, host.Message{
		Action:   host.ActionTriggerNavigation,
		TargetID: t.ID,
		Variant:  string(t.Variant),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}
	if !reply.Success {
		return fmt.Errorf("%w: %s", ErrNavigationFailed, replyError(reply))
	}

	// From here the job is event-driven: a host notification matching the
	// target's handoff marker performs the secondary-stage delivery and
	// reports back on the payload's done channel.
	job.Status = JobAwaitingSecondary
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-payload.done:
		if err != nil {
			return err
		}
	case <-time.After(cfg.OpenTimeout):
		return ErrSecondaryTimeout
	}

	job.Status = JobReady
	return nil
}

// onNotification advances any handoff whose marker matches the new
// context's address. Notifications with no pending handoff, or for a
// handoff already delivered, are idempotent no-ops.
func (s *Service) onNotification(ctx context.Context, n host.Notification) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	payload, ok := s.matchHandoff(n.Address)
	if !ok {
		return
	}
	go s.deliverSecondary(ctx, cfg, payload, n)
}

// matchHandoff claims at most one pending handoff for the address by
// flipping its stage, so a burst of notifications injects only once.
func (s *Service) matchHandoff(addr string) (*HandoffPayload, bool) {
	s.handoffs.mu.Lock()
	defer s.handoffs.mu.Unlock()
	for _, p := range s.handoffs.m {
		if p.Stage != StageAwaitingSecondary {
			continue
		}
		if p.Target.MatchesHandoff(addr) {
			p.Stage = StageInjecting
			return p, true
		}
	}
	return nil, false
}

func (s *Service) deliverSecondary(ctx context.Context, cfg Config, p *HandoffPayload, n host.Notification) {
	// The entry context served its purpose; tear it down first.
	// Failure here is logged, never fatal.
	if p.EntryContext != nil {
		if err := p.EntryContext.Close(ctx); err != nil {
			s.log.Warn("entry context teardown failed", logx.String("target", p.TargetID), logx.Err(err))
		}
	}

	err := s.injectSecondary(ctx, cfg, p, n)
	if err != nil {
		// Terminal: the payload stays in the store for diagnostic
		// inspection, but a later matching context must not re-inject it.
		s.handoffs.setStage(p.TargetID, StageFailed)
		s.led.SetStatus(ctx, storage.StatusRecord{
			TargetID: p.TargetID,
			Status:   ledger.StatusFailed,
			Message:  err.Error(),
		})
	} else {
		s.handoffs.setStage(p.TargetID, StageDelivered)
		s.led.SetStatus(ctx, storage.StatusRecord{
			TargetID:   p.TargetID,
			Status:     ledger.StatusReady,
			Message:    "content placed; awaiting manual confirmation",
			PublishURL: n.Address,
		})
		s.log.Info("handoff delivered", logx.String("target", p.TargetID), logx.String("address", n.Address))
	}

	select {
	case p.done <- err:
	default:
	}
}

func (s *Service) injectSecondary(ctx context.Context, cfg Config, p *HandoffPayload, n host.Notification) error {
	sec, err := s.host.Attach(ctx, n.ContextID, n.Address)
	if err != nil {
		return fmt.Errorf("attach secondary: %w", err)
	}
	if err := sec.InjectAgent(ctx, agentDelivery); err != nil {
		return fmt.Errorf("inject delivery agent: %w", err)
	}

	body, err := json.Marshal(target.Post{Title: p.Title, Body: p.Body, FileIDs: p.FileIDs})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	// Hard timeout, distinct from the generic handshake timeout.
	dctx, cancel := context.WithTimeout(ctx, cfg.HandoffTimeout)
	defer cancel()
	reply, err := sec.Send(dctx, host.Message{Action: host.ActionInjectContent, TargetID: p.TargetID, Payload: body})
	if err != nil {
		if dctx.Err() != nil {
			return ErrDeliveryTimeout
		}
		return fmt.Errorf("inject content: %w", err)
	}
	if !reply.Success {
		return fmt.Errorf("inject content: %s", replyError(reply))
	}
	return nil
}

func (s *Service) openContext(ctx context.Context, cfg Config, endpoint string) (host.Context, error) {
	if lim := s.limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}
	octx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	defer cancel()
	return s.host.Open(octx, endpoint)
}

// handshake polls the context until its delivery handler answers ping, with
// bounded attempts. Failing every attempt is terminal for the job.
func (s *Service) handshake(ctx context.Context, cfg Config, hc host.Context) error {
	for attempt := 1; attempt <= cfg.HandshakeAttempts; attempt++ {
		reply, err := hc.Send(ctx, host.Message{Action: host.ActionPing})
		if err == nil && reply.Success {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < cfg.HandshakeAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.HandshakeInterval):
			}
		}
	}
	waited := time.Duration(cfg.HandshakeAttempts) * cfg.HandshakeInterval
	return HandshakeTimeoutError{Attempts: cfg.HandshakeAttempts, Waited: waited.String()}
}

func (s *Service) jitter(cfg Config, index int) time.Duration {
	d := time.Duration(index) * cfg.JitterBase
	if cfg.JitterRand > 0 {
		s.rngMu.Lock()
		d += time.Duration(s.rng.Int63n(int64(cfg.JitterRand)))
		s.rngMu.Unlock()
	}
	return d
}

func groupTargets(ts []target.Target, size int) [][]target.Target {
	if size <= 0 {
		size = 8
	}
	var out [][]target.Target
	for len(ts) > 0 {
		n := size
		if n > len(ts) {
			n = len(ts)
		}
		out = append(out, ts[:n])
		ts = ts[n:]
	}
	return out
}

func replyError(r host.Reply) string {
	if r.Error != "" {
		return r.Error
	}
	return "handler reported failure"
}
