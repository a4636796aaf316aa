package lanequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(Options{})
	t.Cleanup(func() {
		require.NoError(t, q.Close(context.Background()))
	})
	return q
}

func TestDoRunsTasksInOrderPerKey(t *testing.T) {
	q := newTestQueue(t)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	release := make(chan struct{})
	started := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), "session-a", func(ctx context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(context.Background(), "session-a", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Enqueue strictly one after another.
		require.Eventually(t, func() bool {
			_, queued := q.Stats()
			return queued == i
		}, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestDoNeverOverlapsSameKey(t *testing.T) {
	q := newTestQueue(t)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), "same", func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestDoRunsDifferentKeysConcurrently(t *testing.T) {
	q := newTestQueue(t)

	barrier := make(chan struct{})
	var arrived int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := q.Do(context.Background(), fmt.Sprintf("key-%d", i), func(ctx context.Context) error {
				if atomic.AddInt32(&arrived, 1) == 3 {
					close(barrier)
				}
				select {
				case <-barrier:
					return nil
				case <-time.After(2 * time.Second):
					return errors.New("lanes did not run concurrently")
				}
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestDoReturnsTaskError(t *testing.T) {
	q := newTestQueue(t)
	want := errors.New("store unavailable")

	err := q.Do(context.Background(), "k", func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestDoRecoversPanics(t *testing.T) {
	q := newTestQueue(t)

	err := q.Do(context.Background(), "k", func(ctx context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The lane keeps working after a panic.
	assert.NoError(t, q.Do(context.Background(), "k", func(ctx context.Context) error { return nil }))
}

func TestDoCancelledWhileQueued(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "k", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, "k", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_, queued := q.Stats()
		return queued == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		lanes, _ := q.Stats()
		return lanes == 0
	}, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestDoWithCancelledContext(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Do(ctx, "k", func(ctx context.Context) error {
		t.Fatal("task must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIdleLanesAreReaped(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Do(context.Background(), fmt.Sprintf("session-%d", i), func(ctx context.Context) error {
			return nil
		}))
	}

	require.Eventually(t, func() bool {
		lanes, queued := q.Stats()
		return lanes == 0 && queued == 0
	}, time.Second, time.Millisecond)
}

func TestClose(t *testing.T) {
	t.Run("rejects new tasks", func(t *testing.T) {
		q := New(Options{})
		require.NoError(t, q.Close(context.Background()))

		err := q.Do(context.Background(), "k", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("cancels running and rejects queued", func(t *testing.T) {
		q := New(Options{})

		started := make(chan struct{})
		runningErr := make(chan error, 1)
		go func() {
			runningErr <- q.Do(context.Background(), "k", func(ctx context.Context) error {
				close(started)
				<-ctx.Done()
				return ctx.Err()
			})
		}()
		<-started

		queuedErr := make(chan error, 1)
		go func() {
			queuedErr <- q.Do(context.Background(), "k", func(ctx context.Context) error { return nil })
		}()
		require.Eventually(t, func() bool {
			_, queued := q.Stats()
			return queued == 1
		}, time.Second, time.Millisecond)

		require.NoError(t, q.Close(context.Background()))
		assert.ErrorIs(t, <-runningErr, context.Canceled)
		assert.ErrorIs(t, <-queuedErr, ErrClosed)
	})
}
