package eviction

import (
	"log/slog"
	"slices"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction/policy"
)

// DefaultProtectRatio is the share of the ceiling below which visible
// entries are never evicted.
const DefaultProtectRatio = 0.8

// Planner decides which cached items to remove when the cache is over budget.
//
// Items the user can currently see are only evicted once every other
// candidate has been considered and the remaining size still exceeds
// ProtectRatio of the ceiling.
type Planner struct {
	Policies     []policy.Policy
	Strategy     Strategy
	Ceiling      int64
	ProtectRatio float64
}

// NewPlanner creates a Planner. A zero protectRatio selects DefaultProtectRatio.
func NewPlanner(policies []policy.Policy, strategy Strategy, ceiling int64, protectRatio float64) *Planner {
	if protectRatio <= 0 {
		protectRatio = DefaultProtectRatio
	}
	return &Planner{
		Policies:     policies,
		Strategy:     strategy,
		Ceiling:      ceiling,
		ProtectRatio: protectRatio,
	}
}

// BytesToFree returns the largest amount any policy asks to free.
func (p *Planner) BytesToFree(current int64) int64 {
	var maxToFree int64
	for _, pol := range p.Policies {
		toFree, err := pol.BytesToFree(current)
		if err != nil {
			slog.Error("Failed to check capacity policy", "error", err)
			continue
		}
		if toFree > maxToFree {
			maxToFree = toFree
		}
	}
	return maxToFree
}

// Plan returns the size to reach and the candidates in eviction order:
// every non-visible candidate first, then the visible ones.
// A nil order means no eviction is needed.
func (p *Planner) Plan(current int64, candidates []Candidate) (int64, []Victim) {
	toFree := p.BytesToFree(current)
	if toFree <= 0 {
		return current, nil
	}
	target := max(current-toFree, 0)

	ordered := slices.Clone(candidates)
	if p.Strategy != nil {
		p.Strategy.Order(ordered)
	}

	victims := make([]Victim, 0, len(ordered))
	for _, c := range ordered {
		if !c.Visible {
			victims = append(victims, Victim{Key: c.Key, Size: c.Size})
		}
	}
	for _, c := range ordered {
		if c.Visible {
			victims = append(victims, Victim{Key: c.Key, Size: c.Size, Visible: true})
		}
	}
	return target, victims
}

// Sweep walks the plan and calls remove for each victim until the size
// reaches the target. A failed removal leaves the item accounted for and
// the sweep moves on without retrying it. It returns the final size and the
// victims that were removed.
func (p *Planner) Sweep(current int64, candidates []Candidate, remove func(Victim) error) (int64, []Victim) {
	target, order := p.Plan(current, candidates)
	if order == nil {
		return current, nil
	}

	remaining := current
	var evicted []Victim
	for _, v := range order {
		if remaining <= target {
			break
		}
		if v.Visible && !p.visibleEvictable(remaining) {
			break
		}
		if err := remove(v); err != nil {
			slog.Warn("Failed to evict cached media", "key", v.Key, "error", err)
			continue
		}
		remaining -= v.Size
		evicted = append(evicted, v)
	}

	if remaining > target {
		slog.Warn("Cache still over budget after eviction", "size", remaining, "target", target)
	}
	return remaining, evicted
}

func (p *Planner) visibleEvictable(remaining int64) bool {
	return float64(remaining) > p.ProtectRatio*float64(p.Ceiling)
}
