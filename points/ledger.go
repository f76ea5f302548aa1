/*
ledger.go - Ordered transaction store

PURPOSE:
  The Ledger is the one collection every balance figure is derived from.
  It keeps transactions unique by id and sorted newest first by CreatedAt.

CRITICAL INVARIANTS:
  1. UNIQUE: No two entries share an id
  2. ORDERED: Always newest first by CreatedAt
  3. IMMUTABLE ENTRIES: Entries are replaced, never edited in place

OPENING BALANCE:
  The server balance usually covers more history than the local window of
  transactions. Opening carries that uncovered part so that
      balance = opening + sum(amount)
  holds for every ledger state. An unseeded ledger has opening 0.

OWNERSHIP:
  A Ledger is not safe for concurrent use. The Engine owns it and funnels
  every call through its mutex.

SEE ALSO:
  - balance.go: Projection of balance and lifetime points
  - engine.go: The serialization point
*/
package points

import (
	"slices"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	txs     []Transaction // newest first
	ids     map[TransactionID]struct{}
	opening int64
}

// LedgerSnapshot is an immutable copy of the ledger contents.
type LedgerSnapshot struct {
	Transactions []Transaction
	Opening      int64
}

func NewLedger() *Ledger {
	return &Ledger{ids: make(map[TransactionID]struct{})}
}

// Insert adds tx ahead of every entry that is not newer than it.
// A duplicate id is a no-op and reports false.
func (l *Ledger) Insert(tx Transaction) bool {
	if _, ok := l.ids[tx.ID]; ok {
		return false
	}

	// Optimistic entries carry "now", so this is the head in practice.
	i, _ := slices.BinarySearchFunc(l.txs, tx, func(e, target Transaction) int {
		if e.CreatedAt.After(target.CreatedAt) {
			return -1
		}
		return 1
	})
	l.txs = slices.Insert(l.txs, i, tx)
	l.ids[tx.ID] = struct{}{}
	return true
}

// ReplaceAll swaps the whole ordered set. The first occurrence of an id wins;
// the result is stably sorted newest first.
func (l *Ledger) ReplaceAll(txs []Transaction, opening int64) {
	ids := make(map[TransactionID]struct{}, len(txs))
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if _, dup := ids[tx.ID]; dup {
			continue
		}
		ids[tx.ID] = struct{}{}
		out = append(out, tx)
	}
	slices.SortStableFunc(out, newestFirst)

	l.txs = out
	l.ids = ids
	l.opening = opening
}

// SetOpening replaces the opening balance, leaving transactions untouched.
func (l *Ledger) SetOpening(opening int64) { l.opening = opening }

func (l *Ledger) Opening() int64 { return l.opening }
func (l *Ledger) Len() int       { return len(l.txs) }

func (l *Ledger) Contains(id TransactionID) bool {
	_, ok := l.ids[id]
	return ok
}

// Get returns the transaction with the given id.
func (l *Ledger) Get(id TransactionID) (Transaction, bool) {
	if !l.Contains(id) {
		return Transaction{}, false
	}
	for _, tx := range l.txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Snapshot returns a copy that later mutations cannot affect.
func (l *Ledger) Snapshot() LedgerSnapshot {
	return LedgerSnapshot{
		Transactions: slices.Clone(l.txs),
		Opening:      l.opening,
	}
}

// Pending returns the unreconciled entries, oldest first.
func (l *Ledger) Pending() []Transaction {
	var out []Transaction
	for i := len(l.txs) - 1; i >= 0; i-- {
		if !l.txs[i].IsReconciled {
			out = append(out, l.txs[i])
		}
	}
	return out
}

// Head returns up to limit newest entries. limit <= 0 returns everything.
func (l *Ledger) Head(limit int) []Transaction {
	if limit <= 0 || limit > len(l.txs) {
		limit = len(l.txs)
	}
	return slices.Clone(l.txs[:limit])
}

func newestFirst(a, b Transaction) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}
