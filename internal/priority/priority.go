// Package priority scores cached media for eviction. Lower scores are evicted first.
package priority

import (
	"fmt"
	"time"
)

// AgeMode selects how time since last access contributes to a score.
type AgeMode int

const (
	// AgeDecay subtracts the seconds since last access, so idle entries
	// drift towards eviction.
	AgeDecay AgeMode = iota
	// AgeLegacy adds the seconds since last access. Idle entries gain
	// survival priority over time.
	AgeLegacy
)

func (m AgeMode) String() string {
	switch m {
	case AgeDecay:
		return "decay"
	case AgeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ParseAgeMode parses the names returned by AgeMode.String.
func ParseAgeMode(s string) (AgeMode, error) {
	switch s {
	case "", "decay":
		return AgeDecay, nil
	case "legacy":
		return AgeLegacy, nil
	default:
		return AgeDecay, fmt.Errorf("unknown age mode: %s", s)
	}
}

const (
	DefaultAccessWeight = 10
	DefaultVisibleBoost = 1000
	DefaultRecentBoost  = 100
)

// Scorer computes eviction priorities.
type Scorer struct {
	AccessWeight float64
	VisibleBoost float64
	RecentBoost  float64
	Age          AgeMode
}

// Default returns a Scorer with the default weights and AgeDecay.
func Default() Scorer {
	return Scorer{
		AccessWeight: DefaultAccessWeight,
		VisibleBoost: DefaultVisibleBoost,
		RecentBoost:  DefaultRecentBoost,
		Age:          AgeDecay,
	}
}

// Score returns the priority of an entry at instant now.
func (s Scorer) Score(accessCount int64, lastAccess, now time.Time, visible bool) float64 {
	idle := now.Sub(lastAccess).Seconds()
	if idle < 0 {
		idle = 0
	}

	score := float64(accessCount) * s.AccessWeight
	if s.Age == AgeLegacy {
		score += idle
	} else {
		score -= idle
	}
	if visible {
		score += s.VisibleBoost
	}
	if accessCount > 0 {
		score += s.RecentBoost
	}
	return score
}
