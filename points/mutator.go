/*
mutator.go - Optimistic writes

PURPOSE:
  Applies user actions to the ledger before any network round trip. The
  caller's very next read already includes the new transaction: projection
  and observer delivery happen before ApplyOptimistic returns.

  Nothing here can fail. Connectivity, cache errors and closed sessions do
  not stop a local write; the server remains the final authority and
  reconciliation sorts it out later.

REDEMPTIONS:
  A redemption is an optimistic spend of -cost. Whether the balance covers
  the cost is a UI gate, not an engine invariant.
*/
package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/points-ledger/rewards"
)

// IDGenerator produces client-local transaction ids.
type IDGenerator interface {
	NewID() TransactionID
}

// UUIDGenerator issues "local-" prefixed, time-ordered UUIDv7 ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() TransactionID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return TransactionID(LocalIDPrefix + id.String())
}

// ApplyOptimistic records m as a pending transaction and publishes the new
// snapshot before returning.
func (e *Engine) ApplyOptimistic(m Mutation) Transaction {
	tx := Transaction{
		ID:           e.ids.NewID(),
		Amount:       m.Amount,
		Kind:         m.Kind,
		Source:       m.Source,
		Description:  m.Description,
		EventID:      m.EventID,
		ActivationID: m.ActivationID,
		CreatedAt:    e.now(),
		IsReconciled: false,
	}

	e.mu.Lock()
	if !e.ledger.Insert(tx) {
		// A generator handing out a duplicate id is a bug, but the write
		// must still land.
		e.log.Error("duplicate local transaction id", "tx_id", tx.ID)
		tx.ID = UUIDGenerator{}.NewID()
		e.ledger.Insert(tx)
	}
	snap := e.publishLocked()

	optimisticTotal.WithLabelValues(string(tx.Kind)).Inc()
	e.log.Debug("optimistic transaction applied",
		"tx_id", tx.ID, "amount", tx.Amount, "kind", tx.Kind, "source", tx.Source,
		"balance", snap.Balance)
	return tx
}

// ApplyRedemptionSpend stages a spend of the reward's cost.
func (e *Engine) ApplyRedemptionSpend(reward rewards.Reward) Transaction {
	return e.ApplyOptimistic(Mutation{
		Amount:       -reward.Cost,
		Kind:         KindSpent,
		Source:       SourceRewardRedemption,
		Description:  "Redeemed: " + reward.DisplayName(),
		ActivationID: reward.ID,
	})
}

// StageRedemption reads the reward's current cost from the catalog, then
// applies the spend. Only the catalog lookup can fail, and a failure leaves
// the ledger untouched.
func (e *Engine) StageRedemption(ctx context.Context, reward rewards.Reward) (Transaction, error) {
	if e.catalog == nil {
		return Transaction{}, ErrNoCatalog
	}
	cost, err := e.catalog.GetRewardCost(ctx, reward.ID)
	if err != nil {
		return Transaction{}, fmt.Errorf("staging redemption of %s: %w", reward.ID, classify("GetRewardCost", err))
	}
	reward.Cost = cost
	return e.ApplyRedemptionSpend(reward), nil
}
