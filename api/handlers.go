/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes one engine session over REST so a client can render the balance
  header and transaction list, record actions and stage redemptions.

ENDPOINTS:
  Balance:
    GET    /api/balance                  Snapshot with tier and progress
    GET    /api/stream                   Websocket push of every snapshot

  Transactions:
    GET    /api/transactions?limit=      Newest transactions with sync state
    GET    /api/transactions/history     Load one page of server history
    GET    /api/transactions/{id}        One transaction with sync state
    POST   /api/actions                  Record an action optimistically

  Redemptions:
    POST   /api/redemptions              Stage a redemption at catalog cost

  Sync:
    POST   /api/reconcile                Reconcile now
    POST   /api/connectivity             Connectivity restored, schedule a pass
    GET    /api/scheduler                Background reconciler status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown reward
  - 409: Session closed
  - 502: Remote service unreachable or failing
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - stream.go: Websocket balance stream
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/points-ledger/pkg/logger"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RewardLookup resolves display data for a reward id.
type RewardLookup interface {
	GetReward(ctx context.Context, id string) (rewards.Reward, error)
}

// Handler holds API dependencies.
type Handler struct {
	Engine    *points.Engine
	Rewards   RewardLookup // optional; without it redemptions are named by id
	Scheduler *Scheduler   // optional

	validate *validator.Validate
}

func NewHandler(engine *points.Engine, lookup RewardLookup, scheduler *Scheduler) *Handler {
	return &Handler{
		Engine:    engine,
		Rewards:   lookup,
		Scheduler: scheduler,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) balanceDTO() BalanceDTO {
	return BalanceDTO{UserID: h.Engine.UserID(), BalanceSnapshot: h.Engine.Snapshot()}
}

// =============================================================================
// BALANCE & TRANSACTIONS
// =============================================================================

// GetBalance returns the current snapshot.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.balanceDTO())
}

// GetTransactions returns the newest transactions. limit defaults to 20;
// limit=0 returns the whole local ledger.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	items := h.Engine.RecentTransactions(limit)
	writeJSON(w, http.StatusOK, TransactionListResponse{Items: items, Count: len(items)})
}

// GetTransaction returns one ledger entry by id.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := points.TransactionID(chi.URLParam(r, "id"))
	view, ok := h.Engine.Transaction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// LoadHistory fetches one page of server history into the ledger.
func (h *Handler) LoadHistory(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page", err)
		return
	}
	size, err := intParam(r, "page_size", points.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_size", err)
		return
	}

	p, err := h.Engine.LoadTransactionPage(r.Context(), page, size)
	if err != nil {
		writeEngineError(w, r, "failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RecordAction applies an action optimistically. It never fails once the
// body validates.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	tx := h.Engine.ApplyOptimistic(req.toMutation())
	writeJSON(w, http.StatusCreated, points.TransactionView{Transaction: tx, SyncState: points.SyncPending})
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// StageRedemption spends the reward's current catalog cost.
func (h *Handler) StageRedemption(w http.ResponseWriter, r *http.Request) {
	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	reward := rewards.Reward{ID: req.RewardID}
	if h.Rewards != nil {
		found, err := h.Rewards.GetReward(r.Context(), req.RewardID)
		if err != nil {
			writeEngineError(w, r, "failed to look up reward", err)
			return
		}
		reward = found
	}

	tx, err := h.Engine.StageRedemption(r.Context(), reward)
	if err != nil {
		writeEngineError(w, r, "failed to stage redemption", err)
		return
	}
	writeJSON(w, http.StatusCreated, points.TransactionView{Transaction: tx, SyncState: points.SyncPending})
}

// =============================================================================
// SYNC
// =============================================================================

// Reconcile runs a pass and returns the resulting balance.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.Engine.Reconcile(r.Context()); err != nil {
		writeEngineError(w, r, "reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{
		Balance:    h.balanceDTO(),
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// ConnectivityRestored queues a reconciliation on the scheduler.
func (h *Handler) ConnectivityRestored(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running", nil)
		return
	}
	queued := h.Scheduler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// =============================================================================
// HELPERS
// =============================================================================

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var se *points.ServerError
	switch {
	case errors.Is(err, points.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, points.ErrRewardNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, points.ErrSessionClosed):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, points.ErrNoCatalog):
		writeError(w, http.StatusServiceUnavailable, message, err)
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: message, Details: err.Error(), Status: se.Status})
	case points.IsNetwork(err):
		writeError(w, http.StatusBadGateway, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		logger.FromContext(r.Context()).Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
