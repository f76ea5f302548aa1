/*
engine.go - Session facade and serialization point

PURPOSE:
  One Engine per authenticated user session. It owns the Ledger and is the
  only way to read or change it.

CONCURRENCY MODEL:
  mu       guards the ledger, miss counters and session flags. Every mutation
           and every derived read runs under it, so an Insert can never
           interleave with a ReplaceAll.
  turn     orders the side effects of a mutation (cache write, observer
           delivery). A mutation draws a ticket under mu, releases mu, then
           waits for its ticket to be served. Observers see snapshots in
           mutation order, and nothing ever waits on turn while holding mu,
           so reads never queue behind a cache write or a slow observer.
  flight   coalesces concurrent Reconcile calls into one pass.

  No lock is held across a network call: reconcile fetches outside mu and
  only re-enters it for the merge.

LIFECYCLE:
  Open -> (ApplyOptimistic | Reconcile | LoadTransactionPage)* -> Close

SEE ALSO:
  - mutator.go: Optimistic writes
  - reconcile.go: Merge with the server
*/
package points

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPageSize is the first-page size fetched by Reconcile.
	DefaultPageSize = 50

	// MaxPageSize bounds explicit history paging.
	MaxPageSize = 200

	// DefaultStallThreshold is the number of unmatched passes after which a
	// pending entry is reported as stalled.
	DefaultStallThreshold = 3
)

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures an Engine at Open.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUIDv7 local id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCache persists the ledger through c and restores it at Open.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCatalog sets the reward catalog used by StageRedemption.
func WithCatalog(c RewardCatalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithStallThreshold sets how many unmatched passes make a pending entry stalled.
func WithStallThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stallAfter = n
		}
	}
}

// WithPageSize sets the first-page size fetched during reconciliation.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= MaxPageSize {
			e.pageSize = n
		}
	}
}

// WithTiers replaces DefaultTiers. An invalid table is ignored.
func WithTiers(t TierTable) Option {
	return func(e *Engine) {
		if t.Validate() == nil {
			e.tiers = t
		}
	}
}

// WithSeedBalance seeds the opening balance when nothing is cached.
func WithSeedBalance(balance int64) Option {
	return func(e *Engine) { e.seed = &balance }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	userID  string
	remote  RemoteLedger
	catalog RewardCatalog
	cache   Cache

	now        func() time.Time
	ids        IDGenerator
	tiers      TierTable
	pageSize   int
	stallAfter int
	seed       *int64
	log        *slog.Logger
	tracer     trace.Tracer

	ctx    context.Context // session lifetime
	cancel context.CancelFunc

	mu               sync.Mutex
	ledger           *Ledger
	misses           map[TransactionID]int
	serverBalance    int64
	hasServerBalance bool
	reconciledAt     time.Time
	closed           bool

	nextTicket uint64 // guarded by mu

	pubMu    sync.Mutex
	turn     *sync.Cond // on pubMu
	serving  uint64     // guarded by pubMu
	notifier *Notifier

	flight singleflight.Group
}

// Open starts a session for userID. Cached state is restored when a cache is
// configured; a cache read failure is logged and the session starts empty.
// Open fails with ErrInvalidSession when userID or remote is missing.
func Open(ctx context.Context, userID string, remote RemoteLedger, opts ...Option) (*Engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidSession)
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: no remote ledger", ErrInvalidSession)
	}
	e := &Engine{
		userID:     userID,
		remote:     remote,
		now:        time.Now,
		ids:        UUIDGenerator{},
		tiers:      DefaultTiers,
		pageSize:   DefaultPageSize,
		stallAfter: DefaultStallThreshold,
		log:        slog.Default(),
		ledger:     NewLedger(),
		misses:     make(map[TransactionID]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/warp/points-ledger/points")
	}
	e.log = e.log.With("user_id", userID)
	e.notifier = NewNotifier(e.log)
	e.turn = sync.NewCond(&e.pubMu)
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if e.seed != nil {
		e.ledger.SetOpening(*e.seed)
	}

	if e.cache != nil {
		state, ok, err := e.cache.Load(ctx, userID)
		switch {
		case err != nil:
			e.log.Warn("cached ledger unavailable, starting empty", "error", err)
		case ok:
			e.restore(state)
			e.log.Info("restored cached ledger",
				"transactions", len(state.Transactions),
				"server_balance", state.ServerBalance)
		}
	}
	return e, nil
}

func (e *Engine) restore(state CachedState) {
	e.ledger.ReplaceAll(state.Transactions, state.Opening)
	e.serverBalance = state.ServerBalance
	e.hasServerBalance = state.HasServerBalance
	e.reconciledAt = state.ReconciledAt
	for id, n := range state.Misses {
		if e.ledger.Contains(id) {
			e.misses[id] = n
		}
	}
}

// UserID returns the session's user.
func (e *Engine) UserID() string { return e.userID }

// Close ends the session. In-flight reconciliation results are discarded,
// observers are dropped and later network operations fail with
// ErrSessionClosed. Local reads keep working on the last state.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.notifier.Clear()
	e.log.Info("session closed")
}

// =============================================================================
// READS - all serialized through mu
// =============================================================================

func (e *Engine) Balance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Project(e.ledger.Snapshot()).Balance
}

func (e *Engine) LifetimePoints() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Project(e.ledger.Snapshot()).LifetimePoints
}

func (e *Engine) CurrentTier() Tier {
	return e.Snapshot().Tier
}

// PointsToNextTier returns false at the top tier.
func (e *Engine) PointsToNextTier() (int64, bool) {
	snap := e.Snapshot()
	if snap.PointsToNextTier == nil {
		return 0, false
	}
	return *snap.PointsToNextTier, true
}

func (e *Engine) TierProgress() float64 {
	return e.Snapshot().TierProgress
}

// Snapshot returns the current derived read model.
func (e *Engine) Snapshot() BalanceSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// LedgerSnapshot returns a copy of the raw ledger contents.
func (e *Engine) LedgerSnapshot() LedgerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// RecentTransactions returns up to limit newest transactions with their
// sync state. limit <= 0 returns the whole ledger.
func (e *Engine) RecentTransactions(limit int) []TransactionView {
	e.mu.Lock()
	defer e.mu.Unlock()

	txs := e.ledger.Head(limit)
	views := make([]TransactionView, len(txs))
	for i, tx := range txs {
		views[i] = TransactionView{Transaction: tx, SyncState: e.syncStateLocked(tx)}
	}
	return views
}

// OnBalanceChange registers fn for every published snapshot.
func (e *Engine) OnBalanceChange(fn Observer) (unsubscribe func()) {
	return e.notifier.Subscribe(fn)
}

func (e *Engine) syncStateLocked(tx Transaction) SyncState {
	switch {
	case tx.IsReconciled:
		return SyncConfirmed
	case e.misses[tx.ID] >= e.stallAfter:
		return SyncStalled
	default:
		return SyncPending
	}
}

func (e *Engine) snapshotLocked() BalanceSnapshot {
	totals := Project(e.ledger.Snapshot())
	tier := e.tiers.TierFor(totals.LifetimePoints)

	snap := BalanceSnapshot{
		Balance:          totals.Balance,
		LifetimePoints:   totals.LifetimePoints,
		Tier:             tier,
		TierProgress:     e.tiers.Progress(tier, totals.LifetimePoints),
		PendingCount:     totals.PendingCount,
		LastReconciledAt: e.reconciledAt,
		AsOf:             e.now(),
	}
	if next, ok := e.tiers.Next(tier); ok {
		remaining := next.Min - totals.LifetimePoints
		snap.NextTier = &next
		snap.PointsToNextTier = &remaining
	}
	for id, n := range e.misses {
		if n >= e.stallAfter && e.ledger.Contains(id) {
			snap.StalledCount++
		}
	}
	return snap
}

func (e *Engine) cacheStateLocked() CachedState {
	misses := make(map[TransactionID]int, len(e.misses))
	for id, n := range e.misses {
		misses[id] = n
	}
	return CachedState{
		Transactions:     e.ledger.Head(0),
		Opening:          e.ledger.Opening(),
		ServerBalance:    e.serverBalance,
		HasServerBalance: e.hasServerBalance,
		ReconciledAt:     e.reconciledAt,
		Misses:           misses,
	}
}

// publishLocked must be called with mu held; it releases mu. It writes the
// cache and notifies observers in mutation order.
func (e *Engine) publishLocked() BalanceSnapshot {
	snap := e.snapshotLocked()
	var state CachedState
	if e.cache != nil {
		state = e.cacheStateLocked()
	}
	ticket := e.nextTicket
	e.nextTicket++
	e.mu.Unlock()

	e.pubMu.Lock()
	for e.serving != ticket {
		e.turn.Wait()
	}
	e.pubMu.Unlock()
	defer func() {
		e.pubMu.Lock()
		e.serving++
		e.pubMu.Unlock()
		e.turn.Broadcast()
	}()

	if e.cache != nil {
		if err := e.cache.Save(context.WithoutCancel(e.ctx), e.userID, state); err != nil {
			e.log.Warn("failed to persist ledger", "error", err)
		}
	}
	pendingGauge.Set(float64(snap.PendingCount))
	stalledGauge.Set(float64(snap.StalledCount))
	e.notifier.Notify(snap)
	return snap
}

// Transaction returns the transaction with the given id and its sync state.
func (e *Engine) Transaction(id TransactionID) (TransactionView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.ledger.Get(id)
	if !ok {
		return TransactionView{}, false
	}
	return TransactionView{Transaction: tx, SyncState: e.syncStateLocked(tx)}, true
}
