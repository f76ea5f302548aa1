package points_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// MATCHING
// =============================================================================

func TestReconcile_ServerConfirmsPendingCheckIn(t *testing.T) {
	// GIVEN: One pending check-in
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))

	// WHEN: The server reports it confirmed
	remote.confirm(100, serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)))
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: The pending entry is replaced by the server record
	assert.Empty(t, pendingIDs(eng))
	assert.Equal(t, int64(100), eng.Balance())

	views := eng.RecentTransactions(0)
	require.Len(t, views, 1)
	assert.Equal(t, points.TransactionID("srv-1"), views[0].ID)
	assert.Equal(t, points.SyncConfirmed, views[0].SyncState)
}

func TestReconcile_UnmatchedPendingIsKept(t *testing.T) {
	// GIVEN: Two pending entries, only one of which the server has seen
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))
	trivia := eng.ApplyOptimistic(points.Mutation{
		Amount: 25, Kind: points.KindEarned, Source: points.SourceTrivia,
		Description: "Trivia", ActivationID: "quiz-3",
	})

	// WHEN: Reconciling
	remote.confirm(100, serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)))
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: The unseen entry is still pending and counted on top of the
	// server balance
	assert.Equal(t, []points.TransactionID{trivia.ID}, pendingIDs(eng))
	assert.Equal(t, int64(125), eng.Balance())
}

func TestReconcile_ServerBalanceWins(t *testing.T) {
	// GIVEN: A server balance covering far more history than page 1
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(40, ""))

	remote.confirm(5000, serverTx("srv-9", 100, points.KindBonus, points.SourceReferral, "", epoch.Add(-time.Hour)))

	// WHEN: Reconciling
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: balance = server balance + pending still in flight
	assert.Equal(t, int64(5040), eng.Balance())
	snap := eng.LedgerSnapshot()
	assert.Equal(t, int64(4900), snap.Opening)
}

func TestReconcile_OneServerRecord_SupersedesOnlyTheOldestPending(t *testing.T) {
	// GIVEN: Two pending entries with the same match key
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	older := eng.ApplyOptimistic(checkIn(100, "evt-1"))
	newer := eng.ApplyOptimistic(checkIn(100, "evt-1"))

	// WHEN: The server confirms one of them
	s1 := serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour))
	remote.confirm(100, s1)
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: Exactly one pending entry is gone, and it is the oldest
	ids := pendingIDs(eng)
	assert.Equal(t, []points.TransactionID{newer.ID}, ids)
	assert.NotContains(t, ids, older.ID)
	assert.Equal(t, int64(200), eng.Balance())

	// WHEN: The second confirmation arrives
	s2 := serverTx("srv-2", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(2*time.Hour))
	remote.confirm(200, s2, s1)
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: Nothing is pending and the balance is the server's
	assert.Empty(t, pendingIDs(eng))
	assert.Equal(t, int64(200), eng.Balance())
}

func TestReconcile_KnownServerRecord_NeverSupersedesNewPending(t *testing.T) {
	// GIVEN: A check-in already confirmed by an earlier pass
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))
	remote.confirm(100, serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)))
	require.NoError(t, eng.Reconcile(context.Background()))

	// AND: A new pending entry with the same match key
	again := eng.ApplyOptimistic(checkIn(100, "evt-1"))

	// WHEN: The server state has not changed
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: The new entry keeps waiting for its own server record
	assert.Equal(t, []points.TransactionID{again.ID}, pendingIDs(eng))
	assert.Equal(t, int64(200), eng.Balance())
}

func TestReconcile_Idempotent(t *testing.T) {
	// GIVEN: A reconciled ledger with one entry still in flight
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))
	eng.ApplyOptimistic(points.Mutation{Amount: 25, Kind: points.KindEarned, Source: points.SourceTrivia, Description: "Trivia"})
	remote.confirm(100, serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)))
	require.NoError(t, eng.Reconcile(context.Background()))
	first := eng.LedgerSnapshot()

	// WHEN: Reconciling again against the same server state
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: The ledger is unchanged
	assert.Equal(t, first, eng.LedgerSnapshot())
	assert.Equal(t, int64(125), eng.Balance())
}

// =============================================================================
// HISTORY WINDOW
// =============================================================================

func TestReconcile_KeepsOlderHistoryWhenServerHasMore(t *testing.T) {
	// GIVEN: Four server records, page size 2, and both pages loaded
	remote := &fakeRemote{}
	remote.confirm(100,
		serverTx("s4", 10, points.KindEarned, points.SourceTrivia, "", epoch.Add(-1*time.Minute)),
		serverTx("s3", 20, points.KindEarned, points.SourceTrivia, "", epoch.Add(-2*time.Minute)),
		serverTx("s2", 30, points.KindEarned, points.SourceTrivia, "", epoch.Add(-3*time.Minute)),
		serverTx("s1", 40, points.KindEarned, points.SourceTrivia, "", epoch.Add(-4*time.Minute)),
	)
	eng := openEngine(t, remote, points.WithPageSize(2))
	require.NoError(t, eng.Reconcile(context.Background()))
	_, err := eng.LoadTransactionPage(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, eng.RecentTransactions(0), 4)

	// WHEN: Reconciling, which only fetches page 1
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: History older than the page window survives
	assert.Len(t, eng.RecentTransactions(0), 4)
	assert.Equal(t, int64(100), eng.Balance())
	assert.Equal(t, int64(100), eng.LifetimePoints())
}

func TestReconcile_DropsConfirmedRecordsTheServerNoLongerHas(t *testing.T) {
	// GIVEN: Three confirmed records, all on one page
	remote := &fakeRemote{}
	remote.confirm(60,
		serverTx("s3", 10, points.KindEarned, points.SourceTrivia, "", epoch.Add(-1*time.Minute)),
		serverTx("s2", 20, points.KindEarned, points.SourceTrivia, "", epoch.Add(-2*time.Minute)),
		serverTx("s1", 30, points.KindEarned, points.SourceTrivia, "", epoch.Add(-3*time.Minute)),
	)
	eng := openEngine(t, remote)
	require.NoError(t, eng.Reconcile(context.Background()))

	// WHEN: The server reverses s1 and has no further pages
	remote.confirm(30,
		serverTx("s3", 10, points.KindEarned, points.SourceTrivia, "", epoch.Add(-1*time.Minute)),
		serverTx("s2", 20, points.KindEarned, points.SourceTrivia, "", epoch.Add(-2*time.Minute)),
	)
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: The page is authoritative
	views := eng.RecentTransactions(0)
	require.Len(t, views, 2)
	assert.Equal(t, points.TransactionID("s3"), views[0].ID)
	assert.Equal(t, int64(30), eng.Balance())
}

// =============================================================================
// STALLED ENTRIES
// =============================================================================

func TestReconcile_PendingStallsAfterThreshold(t *testing.T) {
	// GIVEN: A pending entry the server never sees
	remote := &fakeRemote{}
	eng := openEngine(t, remote)
	tx := eng.ApplyOptimistic(checkIn(100, "lost"))

	// WHEN: Two passes go by
	require.NoError(t, eng.Reconcile(context.Background()))
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: It is still just pending
	assert.Equal(t, points.SyncPending, eng.RecentTransactions(1)[0].SyncState)
	assert.Zero(t, eng.Snapshot().StalledCount)

	// WHEN: A third pass goes by
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: It is reported as stalled but still counted
	assert.Equal(t, points.SyncStalled, eng.RecentTransactions(1)[0].SyncState)
	assert.Equal(t, 1, eng.Snapshot().StalledCount)
	assert.Equal(t, int64(100), eng.Balance())

	// WHEN: The server finally confirms it
	remote.confirm(100, serverTx("srv-late", 100, points.KindEarned, points.SourceCheckIn, "lost", epoch.Add(time.Hour)))
	require.NoError(t, eng.Reconcile(context.Background()))

	// THEN: Nothing is stalled any more
	assert.Zero(t, eng.Snapshot().StalledCount)
	assert.NotContains(t, pendingIDs(eng), tx.ID)
}

func TestReconcile_EntryCreatedDuringFetch_IsNotCharged(t *testing.T) {
	// GIVEN: A stall threshold of one pass and one pending entry
	remote := &fakeRemote{}
	remote.blockFetches()
	eng := openEngine(t, remote, points.WithStallThreshold(1))
	old := eng.ApplyOptimistic(checkIn(10, "a"))

	errc := make(chan error, 1)
	go func() { errc <- eng.Reconcile(context.Background()) }()
	<-remote.started

	// WHEN: A new entry lands while the fetch is in flight
	fresh := eng.ApplyOptimistic(checkIn(20, "b"))
	close(remote.block)
	require.NoError(t, <-errc)

	// THEN: Only the entry that existed at fetch start is charged a miss
	states := map[points.TransactionID]points.SyncState{}
	for _, v := range eng.RecentTransactions(0) {
		states[v.ID] = v.SyncState
	}
	assert.Equal(t, points.SyncStalled, states[old.ID])
	assert.Equal(t, points.SyncPending, states[fresh.ID])
}

// =============================================================================
// FAILURES
// =============================================================================

func TestReconcile_ServerError_LedgerUntouched(t *testing.T) {
	// GIVEN: A pending entry and a failing balance endpoint
	remote := &fakeRemote{balanceErr: &points.ServerError{Op: "GetBalance", Status: 503, Message: "maintenance"}}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))
	before := eng.LedgerSnapshot()

	// WHEN: Reconciling
	err := eng.Reconcile(context.Background())

	// THEN: The error is typed and nothing changed
	var se *points.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.Status)
	assert.True(t, points.IsRetryable(err))
	assert.Equal(t, before, eng.LedgerSnapshot())
	assert.True(t, eng.Snapshot().LastReconciledAt.IsZero())
}

func TestReconcile_UntypedFailure_IsNetworkError(t *testing.T) {
	remote := &fakeRemote{pageErr: errors.New("connection reset")}
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, ""))

	err := eng.Reconcile(context.Background())

	var ne *points.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "GetTransactions", ne.Op)
	assert.True(t, points.IsNetwork(err))
	assert.Equal(t, int64(100), eng.Balance())
	assert.Len(t, pendingIDs(eng), 1)
}

func TestReconcile_TriggerFailure_IsIgnored(t *testing.T) {
	remote := &fakeRemote{triggerErr: &points.ServerError{Op: "TriggerServerReconciliation", Status: 500}}
	remote.confirm(10, serverTx("s1", 10, points.KindEarned, points.SourceTrivia, "", epoch))
	eng := openEngine(t, remote)

	require.NoError(t, eng.Reconcile(context.Background()))

	_, _, triggers := remote.calls()
	assert.Equal(t, 1, triggers)
	assert.Equal(t, int64(10), eng.Balance())
}

// =============================================================================
// CONCURRENCY & LIFECYCLE
// =============================================================================

func TestReconcile_CloseDuringFetch_DiscardsResult(t *testing.T) {
	// GIVEN: A pending entry and a fetch that will confirm it
	remote := &fakeRemote{}
	remote.blockFetches()
	remote.confirm(100, serverTx("srv-1", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)))
	eng := openEngine(t, remote)
	eng.ApplyOptimistic(checkIn(100, "evt-1"))

	errc := make(chan error, 1)
	go func() { errc <- eng.Reconcile(context.Background()) }()
	<-remote.started

	// WHEN: The user logs out mid-fetch
	eng.Close()

	// THEN: The pass reports the closed session and the ledger is untouched
	require.ErrorIs(t, <-errc, points.ErrSessionClosed)
	assert.Len(t, pendingIDs(eng), 1)
	assert.True(t, eng.Snapshot().LastReconciledAt.IsZero())
}

func TestReconcile_ConcurrentCallsShareOnePass(t *testing.T) {
	remote := &fakeRemote{}
	remote.blockFetches()
	eng := openEngine(t, remote)

	errc := make(chan error, 2)
	go func() { errc <- eng.Reconcile(context.Background()) }()
	<-remote.started
	go func() { errc <- eng.Reconcile(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(remote.block)

	require.NoError(t, <-errc)
	require.NoError(t, <-errc)
	balanceCalls, _, _ := remote.calls()
	assert.Equal(t, 1, balanceCalls)
}

func TestReconcile_CallerCancel_PassStillCompletes(t *testing.T) {
	// GIVEN: A pass waiting on the network
	remote := &fakeRemote{}
	remote.blockFetches()
	remote.confirm(80, serverTx("s1", 80, points.KindEarned, points.SourceTrivia, "", epoch))
	eng := openEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- eng.Reconcile(ctx) }()
	<-remote.started

	// WHEN: The caller stops waiting
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	close(remote.block)

	// THEN: The session-bound pass still lands
	require.Eventually(t, func() bool {
		return !eng.Snapshot().LastReconciledAt.IsZero()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(80), eng.Balance())
}

func TestReconcile_PublishesSnapshot(t *testing.T) {
	remote := &fakeRemote{}
	remote.confirm(2500, serverTx("s1", 2500, points.KindEarned, points.SourcePrediction, "", epoch))
	eng := openEngine(t, remote)

	var got points.BalanceSnapshot
	eng.OnBalanceChange(func(s points.BalanceSnapshot) { got = s })

	require.NoError(t, eng.Reconcile(context.Background()))

	assert.Equal(t, int64(2500), got.Balance)
	assert.Equal(t, points.TierAllStar, got.Tier.Level)
	assert.False(t, got.LastReconciledAt.IsZero())
}

// =============================================================================
// HISTORY PAGING
// =============================================================================

func TestLoadTransactionPage_SupersedesPendingAndKeepsBalance(t *testing.T) {
	// GIVEN: A seeded balance and a pending trivia win
	remote := &fakeRemote{}
	remote.confirm(1050, serverTx("srv-q9", 50, points.KindEarned, points.SourceTrivia, "q9", epoch.Add(-time.Hour)))
	eng := openEngine(t, remote, points.WithSeedBalance(1000))
	eng.ApplyOptimistic(points.Mutation{Amount: 50, Kind: points.KindEarned, Source: points.SourceTrivia, Description: "Trivia", EventID: "q9"})
	require.Equal(t, int64(1050), eng.Balance())

	// WHEN: Loading a history page that contains its server record
	page, err := eng.LoadTransactionPage(context.Background(), 1, 10)

	// THEN: The server record replaces the pending entry, balance unchanged
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsReconciled)
	assert.Empty(t, pendingIDs(eng))
	assert.Equal(t, int64(1050), eng.Balance())
	assert.Equal(t, int64(50), eng.LifetimePoints())
}

func TestLoadTransactionPage_AddsOlderHistory(t *testing.T) {
	remote := &fakeRemote{}
	remote.confirm(70,
		serverTx("s2", 30, points.KindEarned, points.SourceTrivia, "", epoch.Add(-1*time.Minute)),
		serverTx("s1", 40, points.KindBonus, points.SourceReferral, "", epoch.Add(-2*time.Minute)),
	)
	eng := openEngine(t, remote, points.WithPageSize(1))
	require.NoError(t, eng.Reconcile(context.Background()))
	require.Equal(t, int64(30), eng.LifetimePoints())

	page, err := eng.LoadTransactionPage(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(70), eng.Balance())
	assert.Equal(t, int64(70), eng.LifetimePoints())
	assert.Len(t, eng.RecentTransactions(0), 2)

	// Loading the same page again changes nothing
	before := eng.LedgerSnapshot()
	_, err = eng.LoadTransactionPage(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, before, eng.LedgerSnapshot())
}

func TestLoadTransactionPage_InvalidBounds(t *testing.T) {
	remote := &fakeRemote{}
	eng := openEngine(t, remote)

	tests := []struct {
		name       string
		page, size int
	}{
		{"page zero", 0, 10},
		{"negative page", -1, 10},
		{"size zero", 1, 0},
		{"size above max", 1, points.MaxPageSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.LoadTransactionPage(context.Background(), tt.page, tt.size)
			assert.ErrorIs(t, err, points.ErrInvalidPage)
		})
	}

	_, pageCalls, _ := remote.calls()
	assert.Zero(t, pageCalls)
}

func TestLoadTransactionPage_ServerError(t *testing.T) {
	remote := &fakeRemote{pageErr: &points.ServerError{Op: "GetTransactions", Status: 500}}
	eng := openEngine(t, remote)

	_, err := eng.LoadTransactionPage(context.Background(), 1, 10)

	assert.True(t, points.IsServer(err))
}

// =============================================================================
// PROJECTION INVARIANTS ACROSS OPERATIONS
// =============================================================================

func TestLedgerInvariants_HoldAfterEveryOperation(t *testing.T) {
	remote := &fakeRemote{}
	eng := openEngine(t, remote, points.WithPageSize(2))

	check := func(step string) {
		t.Helper()
		snap := eng.LedgerSnapshot()
		var sum, lifetime int64
		seen := map[points.TransactionID]bool{}
		for i, tx := range snap.Transactions {
			sum += tx.Amount
			if tx.Kind == points.KindEarned || tx.Kind == points.KindBonus {
				lifetime += tx.Amount
			}
			assert.False(t, seen[tx.ID], "%s: duplicate id %s", step, tx.ID)
			seen[tx.ID] = true
			if i > 0 {
				assert.False(t, tx.CreatedAt.After(snap.Transactions[i-1].CreatedAt), "%s: order", step)
			}
		}
		assert.Equal(t, snap.Opening+sum, eng.Balance(), step)
		assert.Equal(t, lifetime, eng.LifetimePoints(), step)
	}

	eng.ApplyOptimistic(checkIn(100, "evt-1"))
	check("check-in")
	eng.ApplyOptimistic(points.Mutation{Amount: -30, Kind: points.KindSpent, Source: points.SourceRewardRedemption, Description: "Redeemed: Voucher", ActivationID: "voucher"})
	check("spend")

	remote.confirm(570,
		serverTx("s3", 100, points.KindEarned, points.SourceCheckIn, "evt-1", epoch.Add(time.Hour)),
		serverTx("s2", -10, points.KindExpired, points.SourceExpiration, "", epoch.Add(-time.Hour)),
		serverTx("s1", 480, points.KindBonus, points.SourceReferral, "", epoch.Add(-2*time.Hour)),
	)
	require.NoError(t, eng.Reconcile(context.Background()))
	check("reconcile")

	_, err := eng.LoadTransactionPage(context.Background(), 2, 2)
	require.NoError(t, err)
	check("history")

	require.NoError(t, eng.Reconcile(context.Background()))
	check("reconcile again")
	assert.Equal(t, int64(540), eng.Balance())
}
