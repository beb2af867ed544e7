package broker

import (
	"context"
	"sync"
)

// Coalescer merges bursts of sync triggers per table. A table waits in the
// queue at most once, and Add never blocks, so a slow synchronizer delays
// triggers without losing any table.
type Coalescer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	order   []string
	wake    chan struct{}
}

func NewCoalescer() *Coalescer {
	return &Coalescer{
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Add queues table and reports false when it was already waiting.
func (c *Coalescer) Add(table string) bool {
	c.mu.Lock()
	if _, ok := c.pending[table]; ok {
		c.mu.Unlock()
		return false
	}
	c.pending[table] = struct{}{}
	c.order = append(c.order, table)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of tables waiting for delivery.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Forward delivers waiting tables to out in arrival order until ctx ends.
// A table leaves the queue when its delivery starts, so an event that
// arrives during a sync queues the table again.
func (c *Coalescer) Forward(ctx context.Context, out chan<- string) {
	for {
		table, ok := c.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}
		select {
		case out <- table:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coalescer) pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return "", false
	}
	table := c.order[0]
	c.order = c.order[1:]
	delete(c.pending, table)
	return table, true
}
