package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "crosspost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout:
//   - <prefix>.ledger.json (whole-snapshot document, replaced atomically)
//
// Every SaveLedger writes a tmp file and renames it over the snapshot, so a
// crash mid-write never leaves a truncated document behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path   string
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:  log,
		path: prefix + ".ledger.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) SaveLedger(ctx context.Context, snap LedgerSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("ledger store closed")
	}

	if snap.Results == nil {
		snap.Results = []StatusRecord{}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) LoadLedger(ctx context.Context) (LedgerSnapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return LedgerSnapshot{}, false, errors.New("ledger store closed")
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LedgerSnapshot{}, false, nil
		}
		return LedgerSnapshot{}, false, err
	}
	defer f.Close()

	var snap LedgerSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		// A corrupt snapshot should not brick startup; treat as empty.
		s.log.Warn("ledger snapshot unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		return LedgerSnapshot{}, false, nil
	}
	return snap, true, nil
}
