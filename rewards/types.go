/*
Package rewards describes the items a fan can redeem points for, and the
catalog that prices them.

PURPOSE:
  Redemptions are optimistic spends on the points ledger. The ledger only
  needs a reward's id, a display name and its current cost; everything else
  here is catalog presentation.

PRICING:
  Costs are whole points and can change server-side at any time, so a
  redemption reads the cost from the Catalog at staging time instead of
  trusting a cost cached on the client.

CATEGORIES:
  merchandise:  Jerseys, scarves, signed memorabilia
  experience:   Stadium tours, meet-and-greets
  concession:   Food and drink vouchers
  ticketing:    Seat upgrades, priority ticket windows
  digital:      Avatars, badges, wallpapers

SEE ALSO:
  - catalog.go: In-memory catalog
  - points/mutator.go: How a redemption becomes a ledger entry
*/
package rewards

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a catalog has no reward with the given id.
var ErrNotFound = errors.New("reward not found")

// =============================================================================
// REWARD
// =============================================================================

// Category groups rewards for display.
type Category string

const (
	CategoryMerchandise Category = "merchandise"
	CategoryExperience  Category = "experience"
	CategoryConcession  Category = "concession"
	CategoryTicketing   Category = "ticketing"
	CategoryDigital     Category = "digital"
)

// Reward is something that can be redeemed with points.
type Reward struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Cost        int64    `json:"cost"`
	Category    Category `json:"category,omitempty"`
	InStock     bool     `json:"in_stock"`
}

// DisplayName returns the name shown in the transaction list, falling back
// to the id when the reward has no name.
func (r Reward) DisplayName() string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog prices rewards. Implementations return ErrNotFound (possibly
// wrapped) for unknown ids.
type Catalog interface {
	GetRewardCost(ctx context.Context, rewardID string) (int64, error)
}
