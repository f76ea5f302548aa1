package points

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER LEVELS
// =============================================================================

type TierLevel int

const (
	TierRookie TierLevel = iota
	TierStarter
	TierAllStar
	TierMVP
	TierHallOfFame
)

var tierNames = [...]string{"rookie", "starter", "allStar", "mvp", "hallOfFame"}

func (l TierLevel) String() string {
	if l < 0 || int(l) >= len(tierNames) {
		return fmt.Sprintf("tier(%d)", int(l))
	}
	return tierNames[l]
}

// ParseTierLevel maps a tier name back to its level.
func ParseTierLevel(name string) (TierLevel, error) {
	for i, n := range tierNames {
		if n == name {
			return TierLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", name)
}

func (l TierLevel) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

func (l *TierLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTierLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Tier is a rank with the minimum lifetime points needed to reach it.
type Tier struct {
	Level TierLevel `json:"level"`
	Min   int64     `json:"min"`
}

// =============================================================================
// TIER TABLE
// =============================================================================

// TierTable lists every level once, lowest first, with strictly increasing
// minimums. The lowest tier starts at 0.
type TierTable []Tier

// DefaultTiers is the production ladder.
var DefaultTiers = TierTable{
	{Level: TierRookie, Min: 0},
	{Level: TierStarter, Min: 500},
	{Level: TierAllStar, Min: 2000},
	{Level: TierMVP, Min: 5000},
	{Level: TierHallOfFame, Min: 10000},
}

// NewTierTable builds a table from per-level minimums. Every level must be
// present.
func NewTierTable(mins map[TierLevel]int64) (TierTable, error) {
	t := make(TierTable, 0, len(tierNames))
	for i := range tierNames {
		level := TierLevel(i)
		floor, ok := mins[level]
		if !ok {
			return nil, fmt.Errorf("%w: missing minimum for %s", ErrInvalidTierTable, level)
		}
		t = append(t, Tier{Level: level, Min: floor})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidTierTable)
	}
	if t[0].Min != 0 {
		return fmt.Errorf("%w: lowest tier must start at 0", ErrInvalidTierTable)
	}
	for i := 1; i < len(t); i++ {
		if t[i].Min <= t[i-1].Min {
			return fmt.Errorf("%w: %s minimum %d not above %s minimum %d",
				ErrInvalidTierTable, t[i].Level, t[i].Min, t[i-1].Level, t[i-1].Min)
		}
	}
	return nil
}

// TierFor walks from the top tier down and returns the first one whose
// minimum is reached. Anything below every minimum is the lowest tier.
func (t TierTable) TierFor(lifetime int64) Tier {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Min <= lifetime {
			return t[i]
		}
	}
	return t[0]
}

// Next returns the tier above tier, or false at the top.
func (t TierTable) Next(tier Tier) (Tier, bool) {
	for i, candidate := range t {
		if candidate.Level == tier.Level && i+1 < len(t) {
			return t[i+1], true
		}
	}
	return Tier{}, false
}

// Progress is (lifetime - tier.min) / (next.min - tier.min), clamped to
// [0, 1]. The top tier is always complete.
func (t TierTable) Progress(tier Tier, lifetime int64) float64 {
	next, ok := t.Next(tier)
	if !ok {
		return 1.0
	}
	span := decimal.NewFromInt(next.Min - tier.Min)
	done := decimal.NewFromInt(lifetime - tier.Min)
	frac := done.Div(span)
	if frac.IsNegative() {
		return 0
	}
	if frac.GreaterThan(decimal.NewFromInt(1)) {
		return 1.0
	}
	return frac.InexactFloat64()
}

// PointsToNext returns how many lifetime points remain until the next tier.
// False means lifetime is already at the top tier.
func (t TierTable) PointsToNext(lifetime int64) (int64, bool) {
	next, ok := t.Next(t.TierFor(lifetime))
	if !ok {
		return 0, false
	}
	return next.Min - lifetime, true
}

// TierFor uses DefaultTiers.
func TierFor(lifetime int64) Tier { return DefaultTiers.TierFor(lifetime) }

// Progress uses DefaultTiers.
func Progress(tier Tier, lifetime int64) float64 { return DefaultTiers.Progress(tier, lifetime) }
