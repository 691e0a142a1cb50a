package quota

import (
	"context"
	"sync"
)

type memoryKey struct {
	userID string
	day    string
}

type memoryCounter struct {
	mu     sync.Mutex
	day    string
	counts map[memoryKey]int
	denied map[memoryKey]int
}

// NewMemoryLedger keeps counters in process memory. Counters for earlier days
// are dropped when the first request of a new day arrives.
func NewMemoryLedger(p Policy) Ledger {
	return newLedger(p, &memoryCounter{
		counts: make(map[memoryKey]int),
		denied: make(map[memoryKey]int),
	})
}

func (c *memoryCounter) increment(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover(day)

	k := memoryKey{userID, day}
	if c.counts[k] >= limit {
		c.denied[k]++
		return c.counts[k], false, nil
	}
	c.counts[k]++
	return c.counts[k], true, nil
}

func (c *memoryCounter) current(ctx context.Context, userID, day string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[memoryKey{userID, day}], nil
}

// rollover must be called with mu held
func (c *memoryCounter) rollover(day string) {
	if day <= c.day {
		return
	}
	c.day = day
	for k := range c.counts {
		if k.day < day {
			delete(c.counts, k)
			delete(c.denied, k)
		}
	}
}
