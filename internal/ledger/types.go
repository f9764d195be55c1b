package ledger

import (
	"context"
	"errors"
	"time"

	"chekitimer/internal/engine"
)

var ErrClosed = errors.New("ledger closed")

// Config configures the backing store.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is a stored session record. Seq is assigned by the store, is
// strictly increasing and never reused within a store.
type Record struct {
	Seq int64 `json:"seq"`
	engine.SessionRecord
}

// Store is the persistence API behind the ledger.
type Store interface {
	// Append stores rec and returns it with its sequence number.
	Append(ctx context.Context, rec engine.SessionRecord) (Record, error)
	// List returns every record in append order.
	List(ctx context.Context) ([]Record, error)
	// Delete removes one record. It reports whether seq existed.
	Delete(ctx context.Context, seq int64) (bool, error)
	// Reset removes every record and returns how many were removed.
	Reset(ctx context.Context) (int, error)
	Close() error
}
