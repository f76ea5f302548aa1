/*
cache.go - Persistence interface for the local ledger state

PURPOSE:
  Lets a session render something before its first reconciliation after a
  process restart. The cache is a mirror of the Ledger, not a second source
  of truth: it is written after every mutation and read once at Open.

LAYOUT:
  - transactions keyed by id (pending and confirmed alike)
  - the last authoritative balance reported by the server, kept separately
  - the ledger's opening balance so the projection comes back identical

IMPLEMENTATIONS:
  - points/cache: In-memory, for tests and ephemeral sessions
  - store/sqlite: SQLite file on the device

SEE ALSO:
  - engine.go: Open loads, every publish saves
*/
package points

import (
	"context"
	"time"
)

// CachedState is everything a session persists across restarts.
type CachedState struct {
	Transactions []Transaction
	Opening      int64

	// ServerBalance is the last value GetBalance returned.
	ServerBalance    int64
	HasServerBalance bool
	ReconciledAt     time.Time

	// Misses counts unmatched reconciliation passes per pending id.
	Misses map[TransactionID]int
}

// Cache persists one CachedState per user.
type Cache interface {
	// Load returns the cached state, or a zero state and false when nothing
	// has been saved for the user.
	Load(ctx context.Context, userID string) (CachedState, bool, error)

	// Save atomically replaces the user's cached state.
	Save(ctx context.Context, userID string, state CachedState) error

	// Clear removes everything cached for the user.
	Clear(ctx context.Context, userID string) error
}
