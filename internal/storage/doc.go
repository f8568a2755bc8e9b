// Package storage persists the publish ledger across process restarts.
//
// The orchestrator's host process may be unloaded between batches; on start
// the ledger is re-read from here to repopulate in-memory state.
package storage
