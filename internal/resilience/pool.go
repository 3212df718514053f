package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many analyzer processes may run at once. One-shot runs
// spawn a process per call, so every spawn site shares one Pool.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// NewPool creates a Pool admitting at most limit concurrent calls.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured concurrency limit.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// Run acquires a slot, runs fn and releases the slot. It returns ctx.Err()
// if ctx ends while waiting. A nil Pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Do is Run for functions that produce a value.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
