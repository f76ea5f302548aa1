/*
errors.go - Error taxonomy for the points engine

PURPOSE:
  All error types in one place. Only reconciliation, history paging and
  catalog lookups can fail; the optimistic path never returns an error.

ERROR CATEGORIES:
  1. NetworkError - transport failure or timeout reaching a remote service
  2. ServerError  - the remote service answered with a non-success status
  3. Session      - the session was closed (logout) before the result landed
  4. Input        - bad page bounds, bad tier table, unknown reward

  Match ambiguity (two pending entries fitting one server record) is not an
  error: the tie-break resolves it and it is only logged.

USAGE:
  if err := eng.Reconcile(ctx); err != nil {
      var netErr *points.NetworkError
      if errors.As(err, &netErr) {
          // show "sync failed, will retry"
      }
  }
*/
package points

import (
	"errors"
	"fmt"

	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNetwork is the category for transport failures and timeouts.
	ErrNetwork = errors.New("network error")

	// ErrServer is the category for non-success responses.
	ErrServer = errors.New("server error")

	// ErrSessionClosed is returned once the session has ended. Results of a
	// fetch that completes after Close are discarded with this error.
	ErrSessionClosed = errors.New("session closed")

	// ErrRewardNotFound is returned when the catalog has no such reward.
	ErrRewardNotFound = rewards.ErrNotFound

	// ErrNoCatalog is returned by StageRedemption when no catalog is configured.
	ErrNoCatalog = errors.New("no reward catalog configured")

	// ErrInvalidPage is returned for out of range page or page size.
	ErrInvalidPage = errors.New("invalid page")

	// ErrInvalidSession is returned by Open for a missing user or remote.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidTierTable is returned for malformed tier thresholds.
	ErrInvalidTierTable = errors.New("invalid tier table")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NetworkError wraps a transport failure for one remote operation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// ServerError is a non-success response from a remote service.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server error: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: server error: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *ServerError) Unwrap() error { return ErrServer }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return errors.Is(err, ErrNetwork) }

// IsServer reports whether err is a non-success response.
func IsServer(err error) bool { return errors.Is(err, ErrServer) }

// IsRetryable returns true if the same call might succeed later.
func IsRetryable(err error) bool {
	if IsNetwork(err) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == 429
	}
	return false
}

// classify leaves typed remote errors alone and files everything else under
// NetworkError, which is what an untyped transport failure is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNetwork(err) || IsServer(err) || errors.Is(err, ErrRewardNotFound) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
