package compile

import "sync"

// RankCounter hands out the global compilation rank. Ranks form a
// strict total order with no gaps: the counter is seeded from the
// highest persisted rank and a value is only taken after the term
// stage has succeeded.
type RankCounter struct {
	mu   sync.Mutex
	last int64
}

// NewRankCounter seeds the counter with the highest rank already
// assigned (0 when none).
func NewRankCounter(last int64) *RankCounter {
	return &RankCounter{last: last}
}

// Next returns the next rank.
func (c *RankCounter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// Last returns the most recently handed-out rank.
func (c *RankCounter) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
