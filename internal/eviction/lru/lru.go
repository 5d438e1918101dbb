package lru

import (
	"cmp"
	"slices"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
)

// LRU orders candidates by last access, oldest first.
// It ignores access counts, so it is mostly useful as a baseline.
type LRU struct{}

func init() {
	eviction.Register("lru", func() eviction.Strategy {
		return New()
	})
}

func New() *LRU {
	return &LRU{}
}

func (l *LRU) Order(candidates []eviction.Candidate) {
	slices.SortStableFunc(candidates, func(a, b eviction.Candidate) int {
		if c := a.LastAccess.Compare(b.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}

