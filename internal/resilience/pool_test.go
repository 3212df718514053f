package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPool_BoundsConcurrentSpawns(t *testing.T) {
	pool := NewPool(2)

	var active, peak atomic.Int32
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			return pool.Run(context.Background(), func() error {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestPool_WaitEndsWithContext(t *testing.T) {
	pool := NewPool(1)
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	started := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := pool.Run(ctx, func() error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestPool_Limit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{4, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewPool(tt.in).Limit(), "NewPool(%d)", tt.in)
	}
	var nilPool *Pool
	assert.Zero(t, nilPool.Limit())
}

func TestPool_NilRunsInline(t *testing.T) {
	var pool *Pool
	out, err := Do(context.Background(), pool, func() (string, error) { return "tokens", nil })
	require.NoError(t, err)
	assert.Equal(t, "tokens", out)
}

func TestDo_PropagatesError(t *testing.T) {
	errSpawn := errors.New("exec: uvalang-analyzer: not found")
	_, err := Do(context.Background(), NewPool(1), func() ([]byte, error) { return nil, errSpawn })
	assert.ErrorIs(t, err, errSpawn)
}
