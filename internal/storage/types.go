package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (atomic JSON snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StatusRecord is the persisted shape of one target's latest publish status.
// Keep it compact and schema-stable.
type StatusRecord struct {
	TargetID   string    `json:"target_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	PublishURL string    `json:"publish_url,omitempty"`
}

// LedgerSnapshot is the whole-ledger document stored under one durable key.
type LedgerSnapshot struct {
	IsPublishing bool           `json:"is_publishing"`
	Results      []StatusRecord `json:"results"`
}
