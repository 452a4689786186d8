package storage

import (
	"context"
	"errors"
	"strings"

	logx "postflow/pkg/logx"
)

// Store is the submission ledger API used by the pipeline.
//
// The runner is the only writer; reads and writes never race with a
// second writer, but implementations still lock internally so that
// diagnostics can read concurrently.
type Store interface {
	HasSubmission(ctx context.Context, key string) (bool, error)
	AddSubmission(ctx context.Context, key string) error
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
