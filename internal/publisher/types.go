package publisher

import (
	"time"

	"crosspost/internal/target"
)

// Config controls the batch publish orchestrator.
//
// The app layer maps config.publisher into this struct (durations parsed).
type Config struct {
	Enabled bool

	// MaxConcurrency bounds in-flight jobs within a batch.
	MaxConcurrency int

	// GroupPause is the fixed pause between job groups.
	GroupPause time.Duration

	HandshakeAttempts int
	HandshakeInterval time.Duration

	// Settle is the wait after content is handed to the delivery handler,
	// so async field population can finish.
	Settle time.Duration

	// HandoffTimeout bounds secondary-stage payload delivery.
	HandoffTimeout time.Duration

	// OpenTimeout bounds opening a context; it also bounds how long a
	// multi-stage job waits for its secondary context to appear.
	OpenTimeout time.Duration

	// OpenRatePerSec throttles context opens. 0 = unlimited.
	OpenRatePerSec int

	// JitterBase is multiplied by a job's index within its group;
	// JitterRand adds 0..JitterRand of random extra delay.
	JitterBase time.Duration
	JitterRand time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.GroupPause <= 0 {
		c.GroupPause = time.Second
	}
	if c.HandshakeAttempts <= 0 {
		c.HandshakeAttempts = 10
	}
	if c.HandshakeInterval <= 0 {
		c.HandshakeInterval = time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 3 * time.Second
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 10 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.JitterBase <= 0 {
		c.JitterBase = 200 * time.Millisecond
	}
	if c.JitterRand <= 0 {
		c.JitterRand = 300 * time.Millisecond
	}
	return c
}

// JobStatus is the orchestrator-internal state of one job. Terminal states
// are projected into the ledger; the job itself is then discarded.
type JobStatus string

const (
	JobQueued            JobStatus = "queued"
	JobOpening           JobStatus = "opening"
	JobAwaitingHandshake JobStatus = "awaiting-handshake"
	JobDelivering        JobStatus = "delivering"
	JobAwaitingSecondary JobStatus = "awaiting-secondary-stage"
	JobReady             JobStatus = "ready-for-confirmation"
	JobFailed            JobStatus = "failed"
)

// Job is one attempt to deliver content to one target. Owned exclusively by
// the scheduler for its lifetime.
type Job struct {
	Target  target.Target
	Post    target.Post
	Status  JobStatus
	LastMsg string

	StartedAt time.Time
}
