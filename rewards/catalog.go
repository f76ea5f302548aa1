package rewards

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// =============================================================================
// STATIC CATALOG - In-memory implementation (for testing/dev)
// =============================================================================

// Static is a Catalog backed by a map. Safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	items map[string]Reward
}

func NewStatic(items ...Reward) *Static {
	s := &Static{items: make(map[string]Reward, len(items))}
	for _, r := range items {
		s.items[r.ID] = r
	}
	return s
}

// Put adds or replaces a reward. A price change takes effect for the next
// GetRewardCost call.
func (s *Static) Put(r Reward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[r.ID] = r
}

// GetReward returns the reward with the given id.
func (s *Static) GetReward(_ context.Context, id string) (Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	if !ok {
		return Reward{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// List returns all rewards ordered by cost, then id.
func (s *Static) List(_ context.Context) []Reward {
	s.mu.RLock()
	out := make([]Reward, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Reward) int {
		if a.Cost != b.Cost {
			if a.Cost < b.Cost {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Static) GetRewardCost(ctx context.Context, id string) (int64, error) {
	r, err := s.GetReward(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.Cost, nil
}

var _ Catalog = (*Static)(nil)

// =============================================================================
// PRESET CATALOG
// =============================================================================

var (
	RewardTShirt = Reward{
		ID: "tshirt", Name: "T-Shirt", Cost: 500,
		Category: CategoryMerchandise, InStock: true,
	}
	RewardScarf = Reward{
		ID: "scarf", Name: "Club Scarf", Cost: 750,
		Category: CategoryMerchandise, InStock: true,
	}
	RewardConcessionVoucher = Reward{
		ID: "concession-voucher", Name: "Concession Voucher", Cost: 250,
		Category: CategoryConcession, InStock: true,
	}
	RewardSeatUpgrade = Reward{
		ID: "seat-upgrade", Name: "Seat Upgrade", Cost: 1500,
		Category: CategoryTicketing, InStock: true,
	}
	RewardStadiumTour = Reward{
		ID: "stadium-tour", Name: "Stadium Tour", Cost: 3000,
		Category: CategoryExperience, InStock: true,
	}
	RewardSignedJersey = Reward{
		ID: "signed-jersey", Name: "Signed Jersey", Cost: 8000,
		Category: CategoryMerchandise, InStock: false,
	}
)

// DefaultCatalog returns a fresh catalog holding the preset rewards.
func DefaultCatalog() *Static {
	return NewStatic(
		RewardTShirt,
		RewardScarf,
		RewardConcessionVoucher,
		RewardSeatUpgrade,
		RewardStadiumTour,
		RewardSignedJersey,
	)
}
