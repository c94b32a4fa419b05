package processor

import (
	"sync"
)

// ConcLimiter bounds the number of goroutines running at once. Wait
// blocks until every started goroutine has called Decrease.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

// Go runs f in a new goroutine once a slot is free.
func (c *ConcLimiter) Go(f func()) {
	c.Increase()
	go func() {
		defer c.Decrease()
		f()
	}()
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}
