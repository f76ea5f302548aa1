/*
Package remote talks to the server-side ledger and reward catalog over
JSON/HTTP, and provides an in-memory twin of that service for local runs
and tests.

ROUTES:
  GET  /v1/users/{user}/balance                          -> {"balance": n}
  GET  /v1/users/{user}/transactions?page=&page_size=    -> {"items": [...], "has_more": b}
  POST /v1/users/{user}/reconcile                        -> 202
  GET  /v1/rewards/{id}                                  -> {"id", "name", "cost"}
  POST /v1/users/{user}/transactions                     (twin only) record an action

ERRORS:
  Transport failures and timeouts  -> points.NetworkError
  Any non-2xx response             -> points.ServerError{Status, Message}
  404 on a reward                  -> rewards.ErrNotFound

SEE ALSO:
  - client.go: HTTP client
  - twin.go: In-memory service
*/
package remote

import (
	"time"

	"github.com/warp/points-ledger/points"
)

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type transactionsResponse struct {
	Items   []transactionDTO `json:"items"`
	HasMore bool             `json:"has_more"`
}

// transactionDTO is a confirmed server record. The server never sends the
// local reconciliation flag.
type transactionDTO struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	Description  string    `json:"description"`
	EventID      string    `json:"event_id,omitempty"`
	ActivationID string    `json:"activation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (d transactionDTO) toTransaction() points.Transaction {
	return points.Transaction{
		ID:           points.TransactionID(d.ID),
		Amount:       d.Amount,
		Kind:         points.Kind(d.Kind),
		Source:       points.Source(d.Source),
		Description:  d.Description,
		EventID:      d.EventID,
		ActivationID: d.ActivationID,
		CreatedAt:    d.CreatedAt,
		IsReconciled: true,
	}
}

func fromTransaction(tx points.Transaction) transactionDTO {
	return transactionDTO{
		ID:           string(tx.ID),
		Amount:       tx.Amount,
		Kind:         string(tx.Kind),
		Source:       string(tx.Source),
		Description:  tx.Description,
		EventID:      tx.EventID,
		ActivationID: tx.ActivationID,
		CreatedAt:    tx.CreatedAt,
	}
}

type rewardResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Cost        int64  `json:"cost"`
	Category    string `json:"category,omitempty"`
	InStock     bool   `json:"in_stock"`
}

// RecordRequest is the twin's body for POST /v1/users/{user}/transactions.
type RecordRequest struct {
	Amount       int64  `json:"amount"`
	Kind         string `json:"kind"`
	Source       string `json:"source"`
	Description  string `json:"description"`
	EventID      string `json:"event_id,omitempty"`
	ActivationID string `json:"activation_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
