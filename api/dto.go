/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the presentation API. Engine types that are
  already shaped for display (BalanceSnapshot, TransactionView, Page) are
  returned as they are; everything else goes through a DTO.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.validate.Struct before touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ActionRequest records a user action optimistically.
type ActionRequest struct {
	Amount       int64  `json:"amount" validate:"required"`
	Kind         string `json:"kind" validate:"required,oneof=earned bonus spent adjustment expired"`
	Source       string `json:"source" validate:"required,oneof=check_in trivia prediction reward_redemption admin_adjustment referral expiration other"`
	Description  string `json:"description" validate:"required,max=200"`
	EventID      string `json:"event_id" validate:"max=128"`
	ActivationID string `json:"activation_id" validate:"max=128"`
}

func (r ActionRequest) toMutation() points.Mutation {
	return points.Mutation{
		Amount:       r.Amount,
		Kind:         points.Kind(r.Kind),
		Source:       points.Source(r.Source),
		Description:  r.Description,
		EventID:      r.EventID,
		ActivationID: r.ActivationID,
	}
}

// RedemptionRequest stages a reward redemption.
type RedemptionRequest struct {
	RewardID string `json:"reward_id" validate:"required,max=128"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is the balance header shown in the app.
type BalanceDTO struct {
	UserID string `json:"user_id"`
	points.BalanceSnapshot
}

// TransactionListResponse wraps recent transactions.
type TransactionListResponse struct {
	Items []points.TransactionView `json:"items"`
	Count int                      `json:"count"`
}

// ReconcileResponse reports a finished reconciliation.
type ReconcileResponse struct {
	Balance    BalanceDTO `json:"balance"`
	DurationMS int64      `json:"duration_ms"`
}

// SchedulerStatusDTO reports the background reconciler.
type SchedulerStatusDTO struct {
	Running   bool      `json:"running"`
	Interval  string    `json:"interval"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Throttled int64     `json:"throttled"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"upstream_status,omitempty"`
}
