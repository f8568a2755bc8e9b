package storage

import (
	"context"
	"errors"
	"strings"

	logx "crosspost/pkg/logx"
)

// Store is the minimal persistence API used by the ledger.
type Store interface {
	SaveLedger(ctx context.Context, snap LedgerSnapshot) error
	// LoadLedger returns ok=false when no snapshot has been saved yet.
	LoadLedger(ctx context.Context) (snap LedgerSnapshot, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
