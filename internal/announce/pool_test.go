package announce_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nganji523/packetcrypt-rs/internal/announce"
	"github.com/nganji523/packetcrypt-rs/internal/announce/announcetest"
)

func TestPoolAcquireRelease(t *testing.T) {
	pool := announce.NewPool(2)
	require.Equal(t, 2, pool.Size())

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, first, second)

	// Both contexts are out, so the next Acquire waits for the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(first)
	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, first, again)

	pool.Release(again)
	pool.Release(second)
	pool.Close()

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, announce.ErrPoolClosed)

	// Close destroyed every context
	require.Panics(t, func() { first.Destroy() })
	require.Panics(t, func() { second.Destroy() })
}

func TestPoolMinimumSize(t *testing.T) {
	pool := announce.NewPool(0)
	defer pool.Close()
	require.Equal(t, 1, pool.Size())
}

func TestPoolConcurrentChecks(t *testing.T) {
	v := newValidator()
	ann, want := announcetest.Mine(t, v, announcetest.Header(10), 6, &testParent)

	pool := announce.NewPool(3)
	defer pool.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := pool.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer pool.Release(ctx)

			got, err := v.CheckAnn(ctx, ann, &testParent)
			if err == nil && got != want {
				t.Errorf("got hash %s, want %s", got, want)
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent check failed: %v", err)
	}
}
