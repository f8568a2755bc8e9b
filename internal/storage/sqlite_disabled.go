//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "crosspost/pkg/logx"
)

// Built without the sqlite tag; keep the symbol so Open compiles.
func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite storage not built in (rebuild with -tags sqlite)")
}
