// Package cache provides points.Cache implementations.
package cache

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// MEMORY CACHE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps one CachedState per user. Saved and loaded states are deep
// copies, so callers can never alias the stored slices or maps.
type Memory struct {
	mu     sync.RWMutex
	states map[string]points.CachedState
	saves  int
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]points.CachedState)}
}

func (m *Memory) Load(_ context.Context, userID string) (points.CachedState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[userID]
	if !ok {
		return points.CachedState{}, false, nil
	}
	return clone(s), true, nil
}

func (m *Memory) Save(_ context.Context, userID string, state points.CachedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = clone(state)
	m.saves++
	return nil
}

func (m *Memory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// Saves counts successful Save calls.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func clone(s points.CachedState) points.CachedState {
	s.Transactions = slices.Clone(s.Transactions)
	s.Misses = maps.Clone(s.Misses)
	return s
}

var _ points.Cache = (*Memory)(nil)
