package eviction

import "time"

// Candidate is a cached item considered for eviction.
type Candidate struct {
	Key        string
	Size       int64
	Priority   float64
	LastAccess time.Time
	Visible    bool
}

// Victim represents an item selected for eviction.
type Victim struct {
	Key     string
	Size    int64
	Visible bool
}

// Strategy defines the order in which candidates are evicted.
type Strategy interface {
	// Order sorts candidates in place so that the first element is the
	// first to be evicted.
	Order(candidates []Candidate)
}

// StrategyFunc adapts an ordinary function to a Strategy.
type StrategyFunc func(candidates []Candidate)

func (f StrategyFunc) Order(candidates []Candidate) {
	f(candidates)
}
