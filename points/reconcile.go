/*
reconcile.go - Merging the server's ledger into the local one

PURPOSE:
  Pulls the authoritative balance and the newest page of confirmed
  transactions, pairs each server record with at most one pending local
  entry, and swaps the result into the Ledger in one step.

ALGORITHM:
  1. Trigger the server's own consistency pass (fire and forget)
  2. Fetch balance and page 1 concurrently; either failing aborts the pass
     with the ledger untouched
  3. For each server record not already known locally, take the oldest
     pending entry with the same (source, activationId, eventId, amount)
  4. New ledger = server page + unmatched pending + confirmed history older
     than the page window (only when the server says there is more)
  5. opening = server balance - sum(confirmed kept), so
     balance = server balance + sum(pending still in flight)

TIE-BREAKS:
  - Two pending entries fitting one server record: the oldest is taken, the
    other waits for the next pass
  - A server record that was already in the ledger before this pass was
    confirmed earlier and never supersedes a pending entry

IDEMPOTENCE:
  A second pass over the same server state changes nothing: every page
  record is known, so no pending entry is matched and the merged set is
  built from identical inputs in identical order.

STALLED ENTRIES:
  Every pass a pending entry survives unmatched increments its miss count.
  At the stall threshold it is reported as stalled instead of being retried
  silently forever. Entries created while a fetch was in flight are not
  charged a miss for that pass.
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// MATCHER - Composite key index over pending entries
// =============================================================================

type matcher struct {
	byKey map[MatchKey][]Transaction // oldest first
}

func newMatcher(pendingOldestFirst []Transaction) *matcher {
	m := &matcher{byKey: make(map[MatchKey][]Transaction)}
	for _, tx := range pendingOldestFirst {
		k := tx.MatchKey()
		m.byKey[k] = append(m.byKey[k], tx)
	}
	return m
}

// take removes and returns the oldest pending entry with key k. ambiguous is
// true when another entry with the same key was also a candidate.
func (m *matcher) take(k MatchKey) (tx Transaction, ok bool, ambiguous bool) {
	q := m.byKey[k]
	if len(q) == 0 {
		return Transaction{}, false, false
	}
	m.byKey[k] = q[1:]
	return q[0], true, len(q) > 1
}

// =============================================================================
// MERGE - Pure, no locks, no I/O
// =============================================================================

type mergeResult struct {
	Transactions []Transaction
	Opening      int64
	Matched      map[TransactionID]TransactionID // pending id -> server id
	Retained     []TransactionID                 // pending ids left unmatched
	Ambiguous    int
}

func mergeServerState(current LedgerSnapshot, serverBalance int64, page Page) mergeResult {
	known := make(map[TransactionID]bool)
	var pending []Transaction
	for i := len(current.Transactions) - 1; i >= 0; i-- {
		tx := current.Transactions[i]
		if tx.IsReconciled {
			known[tx.ID] = true
		} else {
			pending = append(pending, tx)
		}
	}

	res := mergeResult{Matched: make(map[TransactionID]TransactionID)}
	m := newMatcher(pending)

	inPage := make(map[TransactionID]bool, len(page.Items))
	server := make([]Transaction, 0, len(page.Items))
	var oldest time.Time
	for _, s := range page.Items {
		if inPage[s.ID] {
			continue
		}
		s.IsReconciled = true
		inPage[s.ID] = true
		server = append(server, s)
		if oldest.IsZero() || s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}

		if known[s.ID] {
			continue
		}
		if p, ok, ambiguous := m.take(s.MatchKey()); ok {
			res.Matched[p.ID] = s.ID
			if ambiguous {
				res.Ambiguous++
			}
		}
	}

	merged := make([]Transaction, 0, len(current.Transactions)+len(server))
	merged = append(merged, server...)
	for _, tx := range current.Transactions {
		if tx.IsReconciled {
			continue
		}
		if _, matched := res.Matched[tx.ID]; matched {
			continue
		}
		merged = append(merged, tx)
		res.Retained = append(res.Retained, tx.ID)
	}

	// Confirmed history outside the page window is still valid when the
	// server has more pages; inside the window the page is authoritative.
	if page.HasMore {
		for _, tx := range current.Transactions {
			if !tx.IsReconciled || inPage[tx.ID] {
				continue
			}
			if len(server) == 0 || !tx.CreatedAt.After(oldest) {
				merged = append(merged, tx)
			}
		}
	}

	var confirmed int64
	for _, tx := range merged {
		if tx.IsReconciled {
			confirmed += tx.Amount
		}
	}
	res.Transactions = merged
	res.Opening = serverBalance - confirmed
	return res
}

type pageMergeResult struct {
	Transactions []Transaction
	Added        int
	Superseded   map[TransactionID]TransactionID
}

// mergeHistoryPage adds page records the ledger has not seen and drops the
// pending entries they supersede.
func mergeHistoryPage(current LedgerSnapshot, page Page) pageMergeResult {
	known := make(map[TransactionID]bool, len(current.Transactions))
	var pending []Transaction
	for i := len(current.Transactions) - 1; i >= 0; i-- {
		tx := current.Transactions[i]
		known[tx.ID] = true
		if !tx.IsReconciled {
			pending = append(pending, tx)
		}
	}

	res := pageMergeResult{Superseded: make(map[TransactionID]TransactionID)}
	m := newMatcher(pending)
	var added []Transaction
	for _, s := range page.Items {
		if known[s.ID] {
			continue
		}
		known[s.ID] = true
		s.IsReconciled = true
		added = append(added, s)
		if p, ok, _ := m.take(s.MatchKey()); ok {
			res.Superseded[p.ID] = s.ID
		}
	}

	out := make([]Transaction, 0, len(current.Transactions)+len(added))
	for _, tx := range current.Transactions {
		if _, gone := res.Superseded[tx.ID]; !gone {
			out = append(out, tx)
		}
	}
	res.Transactions = append(out, added...)
	res.Added = len(added)
	return res
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile merges the server's state into the ledger. Concurrent calls share
// one pass. The pass is bound to the session, not to ctx: a caller whose ctx
// ends stops waiting, but the pass still completes for the others. Close
// discards a pass whose fetch is still in flight.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.isClosed() {
		return ErrSessionClosed
	}
	ch := e.flight.DoChan("reconcile", func() (any, error) {
		return nil, e.reconcileOnce(e.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reconcileOnce(ctx context.Context) (err error) {
	begin := time.Now()
	ctx, span := e.tracer.Start(ctx, "points.Reconcile",
		trace.WithAttributes(attribute.String("points.user_id", e.userID)))
	defer func() {
		outcome := outcomeSuccess
		switch {
		case errors.Is(err, ErrSessionClosed):
			outcome = outcomeDiscarded
		case IsServer(err):
			outcome = outcomeServer
		case err != nil:
			outcome = outcomeNetwork
		}
		reconcileTotal.WithLabelValues(outcome).Inc()
		reconcileDuration.Observe(time.Since(begin).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	charged := make(map[TransactionID]bool)
	for _, tx := range e.ledger.Pending() {
		charged[tx.ID] = true
	}
	e.mu.Unlock()

	if terr := e.remote.TriggerServerReconciliation(ctx); terr != nil {
		e.log.Warn("server reconciliation trigger failed", "error", terr)
	}

	var (
		balance int64
		page    Page
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := e.remote.GetBalance(gctx)
		if err != nil {
			return classify("GetBalance", err)
		}
		balance = b
		return nil
	})
	g.Go(func() error {
		p, err := e.remote.GetTransactions(gctx, 1, e.pageSize)
		if err != nil {
			return classify("GetTransactions", err)
		}
		page = p
		return nil
	})
	if err := g.Wait(); err != nil {
		if e.isClosed() {
			return ErrSessionClosed
		}
		e.log.Warn("reconciliation fetch failed, ledger unchanged", "error", err)
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log.Info("discarding reconciliation result for closed session")
		return ErrSessionClosed
	}
	result := mergeServerState(e.ledger.Snapshot(), balance, page)
	e.ledger.ReplaceAll(result.Transactions, result.Opening)

	misses := make(map[TransactionID]int, len(result.Retained))
	for _, id := range result.Retained {
		misses[id] = e.misses[id]
		if charged[id] {
			misses[id]++
		}
	}
	e.misses = misses
	e.serverBalance = balance
	e.hasServerBalance = true
	e.reconciledAt = e.now()
	snap := e.publishLocked()

	matchedTotal.Add(float64(len(result.Matched)))
	ambiguousMatchTotal.Add(float64(result.Ambiguous))
	if result.Ambiguous > 0 {
		e.log.Debug("ambiguous matches resolved oldest first", "count", result.Ambiguous)
	}
	span.SetAttributes(
		attribute.Int64("points.server_balance", balance),
		attribute.Int("points.page_items", len(page.Items)),
		attribute.Int("points.matched", len(result.Matched)),
		attribute.Int("points.pending", snap.PendingCount),
	)
	e.log.Info("reconciled",
		"server_balance", balance,
		"balance", snap.Balance,
		"matched", len(result.Matched),
		"pending", snap.PendingCount,
		"stalled", snap.StalledCount)
	return nil
}

// =============================================================================
// HISTORY PAGING
// =============================================================================

// LoadTransactionPage fetches one page of server history and merges it into
// the ledger. The balance is left as the last reconciliation set it; only
// lifetime points and the transaction list can change.
func (e *Engine) LoadTransactionPage(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return Page{}, fmt.Errorf("%w: page %d, size %d", ErrInvalidPage, page, pageSize)
	}
	if e.isClosed() {
		return Page{}, ErrSessionClosed
	}

	ctx, span := e.tracer.Start(ctx, "points.LoadTransactionPage",
		trace.WithAttributes(
			attribute.String("points.user_id", e.userID),
			attribute.Int("points.page", page),
			attribute.Int("points.page_size", pageSize),
		))
	defer span.End()

	p, err := e.remote.GetTransactions(ctx, page, pageSize)
	if err != nil {
		err = classify("GetTransactions", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, err
	}
	p.Page, p.PageSize = page, pageSize
	for i := range p.Items {
		p.Items[i].IsReconciled = true
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Page{}, ErrSessionClosed
	}
	current := e.ledger.Snapshot()
	res := mergeHistoryPage(current, p)
	if res.Added == 0 {
		e.mu.Unlock()
		return p, nil
	}
	balance := Project(current).Balance
	e.ledger.ReplaceAll(res.Transactions, balance-sumAmounts(res.Transactions))
	for id := range res.Superseded {
		delete(e.misses, id)
	}
	e.publishLocked()

	e.log.Debug("history page merged", "page", page, "added", res.Added, "superseded", len(res.Superseded))
	return p, nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
