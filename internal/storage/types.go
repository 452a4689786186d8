package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the reposting
// flow refuses to run (the ledger must be durable).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SubmissionKey builds the ledger key for one item on one destination.
func SubmissionKey(itemID, destinationID string) string {
	return fmt.Sprintf("%s|%s", itemID, destinationID)
}
