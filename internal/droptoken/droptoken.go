// Package droptoken counts live resources so shutdown can wait for them.
//
// Every source connection, listener and media session driver holds a Token
// from a shared Counter. Releasing is idempotent, so it is safe to both defer
// the release and call it early on a known exit path.
package droptoken

import (
	"context"
	"sync"
)

// Counter tracks the number of outstanding tokens.
type Counter struct {
	mu    sync.Mutex
	count int
	zero  chan struct{}
}

// NewCounter creates a Counter with no outstanding tokens.
func NewCounter() *Counter {
	zero := make(chan struct{})
	close(zero)
	return &Counter{zero: zero}
}

// Token is one outstanding unit held against a Counter.
type Token struct {
	once    sync.Once
	counter *Counter
}

// Acquire increments the counter and returns the token that decrements it.
func (c *Counter) Acquire() *Token {
	c.mu.Lock()
	if c.count == 0 {
		c.zero = make(chan struct{})
	}
	c.count++
	c.mu.Unlock()
	return &Token{counter: c}
}

// Release decrements the counter. Calls after the first are no-ops.
// A nil token is ignored.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		c := t.counter
		c.mu.Lock()
		c.count--
		if c.count == 0 {
			close(c.zero)
		}
		c.mu.Unlock()
	})
}

// Count returns the number of outstanding tokens.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Wait blocks until no tokens are outstanding or ctx is done.
func (c *Counter) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.count == 0 {
			c.mu.Unlock()
			return nil
		}
		zero := c.zero
		c.mu.Unlock()

		select {
		case <-zero:
			// a token may have been acquired again after reaching zero
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
