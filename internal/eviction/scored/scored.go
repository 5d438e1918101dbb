// Package scored evicts the lowest priority media first.
package scored

import (
	"cmp"
	"slices"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
)

// Name is the registry name of the strategy.
const Name = "priority"

func init() {
	eviction.Register(Name, func() eviction.Strategy {
		return New()
	})
}

// Strategy orders candidates by ascending priority. Ties go to the entry
// that was accessed longest ago, then to the key so the order is stable.
type Strategy struct{}

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Order(candidates []eviction.Candidate) {
	slices.SortStableFunc(candidates, func(a, b eviction.Candidate) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := a.LastAccess.Compare(b.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}
