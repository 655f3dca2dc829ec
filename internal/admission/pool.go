// Package admission bounds how many deployment runs execute at once.
package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent pipeline runs using a weighted semaphore. A Pool
// with limit 0 admits every run immediately.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// NewPool creates a Pool that admits at most limit concurrent runs.
// Non-positive limits mean unbounded.
func NewPool(limit int) *Pool {
	p := &Pool{limit: limit}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(int64(limit))
	}
	return p
}

// Run waits for a slot, runs fn, and releases the slot. It returns
// ctx.Err() if the context is cancelled while waiting.
// A nil Pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil {
		return fn()
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
	}
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	return fn()
}

// InFlight returns the number of runs currently admitted.
func (p *Pool) InFlight() int64 {
	if p == nil {
		return 0
	}
	return p.inFlight.Load()
}

// Limit returns the configured bound, 0 for unbounded.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}
