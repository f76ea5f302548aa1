package points

import (
	"context"

	"github.com/warp/points-ledger/rewards"
)

// RemoteLedger is the server-authoritative ledger for one user.
//
// Implementations report transport failures as *NetworkError and non-success
// responses as *ServerError. Untyped errors are treated as network failures.
type RemoteLedger interface {
	// GetBalance returns the current authoritative balance.
	GetBalance(ctx context.Context) (int64, error)

	// GetTransactions returns a newest-first page of confirmed transactions.
	// Pages start at 1.
	GetTransactions(ctx context.Context, page, pageSize int) (Page, error)

	// TriggerServerReconciliation asks the server to run its own consistency
	// pass. Fire and forget: callers log failures and move on.
	TriggerServerReconciliation(ctx context.Context) error
}

// RewardCatalog is the only thing the engine needs from the reward service.
type RewardCatalog = rewards.Catalog
