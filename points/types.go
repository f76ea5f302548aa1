/*
Package points provides the loyalty points ledger and reconciliation engine.

PURPOSE:
  Maintains a user's point balance, lifetime points and tier on a client that
  is often offline, while staying eventually consistent with the
  server-authoritative ledger. User actions are applied optimistically and
  show up immediately; a reconciliation pass later merges the server's
  confirmed history and drops the local entries it supersedes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable record of one point movement
  - Kind / Source: What the movement is and where it came from
  - MatchKey: The composite key correlating a local entry with its server twin
  - BalanceSnapshot: The derived read model published to observers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never edited; reconciliation replaces them
  2. Derivation: Balance and lifetime points are always recomputed from the ledger
  3. Offline first: Local mutations never fail
  4. Server authority: The remote balance wins whenever it is known

USAGE:
  eng, err := points.Open(ctx, "user-1", remoteClient, points.WithCache(cache))
  tx := eng.ApplyOptimistic(points.Mutation{
      Amount:      100,
      Kind:        points.KindEarned,
      Source:      points.SourceCheckIn,
      Description: "Check-in",
  })
  err = eng.Reconcile(ctx)

SEE ALSO:
  - ledger.go: Ordered transaction store
  - reconcile.go: Merge algorithm
  - engine.go: Session facade and serialization
*/
package points

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string

// LocalIDPrefix marks transactions created on the client and not yet confirmed.
const LocalIDPrefix = "local-"

// IsLocal reports whether the id was generated on the client.
func (id TransactionID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalIDPrefix)
}

// =============================================================================
// KIND & SOURCE
// =============================================================================

type Kind string

const (
	KindEarned     Kind = "earned"     // Points earned through an activity
	KindBonus      Kind = "bonus"      // Promotional or streak bonus
	KindSpent      Kind = "spent"      // Reward redemption
	KindAdjustment Kind = "adjustment" // Admin correction, either sign
	KindExpired    Kind = "expired"    // Points removed by expiry
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEarned, KindBonus, KindSpent, KindAdjustment, KindExpired:
		return true
	}
	return false
}

// CountsTowardLifetime reports whether amounts of this kind feed tier progression.
func (k Kind) CountsTowardLifetime() bool {
	return k == KindEarned || k == KindBonus
}

type Source string

const (
	SourceCheckIn          Source = "check_in"
	SourceTrivia           Source = "trivia"
	SourcePrediction       Source = "prediction"
	SourceRewardRedemption Source = "reward_redemption"
	SourceAdminAdjustment  Source = "admin_adjustment"
	SourceReferral         Source = "referral"
	SourceExpiration       Source = "expiration"
	SourceOther            Source = "other"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceCheckIn, SourceTrivia, SourcePrediction, SourceRewardRedemption,
		SourceAdminAdjustment, SourceReferral, SourceExpiration, SourceOther:
		return true
	}
	return false
}

// =============================================================================
// TRANSACTION - Immutable point movement
// =============================================================================

// Transaction is a single point movement. Amount is signed: debits are
// stored already negative. EventID and ActivationID are empty when absent.
type Transaction struct {
	ID           TransactionID `json:"id"`
	Amount       int64         `json:"amount"`
	Kind         Kind          `json:"kind"`
	Source       Source        `json:"source"`
	Description  string        `json:"description"`
	EventID      string        `json:"event_id,omitempty"`
	ActivationID string        `json:"activation_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	IsReconciled bool          `json:"is_reconciled"`
}

// MatchKey returns the composite key used to pair this transaction with its
// counterpart on the other side of the wire.
func (t Transaction) MatchKey() MatchKey {
	return MatchKey{
		Source:       t.Source,
		ActivationID: t.ActivationID,
		EventID:      t.EventID,
		Amount:       t.Amount,
	}
}

// MatchKey is (source, activationId, eventId, amount). All four must be equal.
type MatchKey struct {
	Source       Source
	ActivationID string
	EventID      string
	Amount       int64
}

// Mutation describes a locally originated point movement.
type Mutation struct {
	Amount       int64
	Kind         Kind
	Source       Source
	Description  string
	EventID      string
	ActivationID string
}

// =============================================================================
// SYNC STATE - How far a transaction got towards the server
// =============================================================================

type SyncState string

const (
	SyncConfirmed SyncState = "confirmed" // Server-confirmed record
	SyncPending   SyncState = "pending"   // Local, awaiting a matching server record
	SyncStalled   SyncState = "stalled"   // Local, unmatched after too many passes
)

// TransactionView is a transaction as shown to the presentation layer.
type TransactionView struct {
	Transaction
	SyncState SyncState `json:"sync_state"`
}

// =============================================================================
// PAGE - One page of server history
// =============================================================================

// Page is a newest-first slice of confirmed server transactions.
// Pages are numbered from 1.
type Page struct {
	Items    []Transaction `json:"items"`
	HasMore  bool          `json:"has_more"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// =============================================================================
// BALANCE SNAPSHOT - Derived read model
// =============================================================================

// BalanceSnapshot is derived from the ledger and never stored on its own.
type BalanceSnapshot struct {
	Balance          int64     `json:"balance"`
	LifetimePoints   int64     `json:"lifetime_points"`
	Tier             Tier      `json:"tier"`
	NextTier         *Tier     `json:"next_tier,omitempty"`
	PointsToNextTier *int64    `json:"points_to_next_tier"`
	TierProgress     float64   `json:"tier_progress"`
	PendingCount     int       `json:"pending_count"`
	StalledCount     int       `json:"stalled_count"`
	LastReconciledAt time.Time `json:"last_reconciled_at,omitzero"`
	AsOf             time.Time `json:"as_of"`
}
