package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-app/trellis-core/pkg/logger"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_RunsJobsToCompletion(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	var handled atomic.Int64
	registry.MustRegister("t", HandlerFunc(func(ctx context.Context, job *Job) error {
		handled.Add(1)
		return nil
	}))

	const jobCount = 5
	ids := make([]*Job, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
		require.NoError(t, err)
		ids = append(ids, job)
	}

	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return pool.Metrics().Completed == jobCount
	})

	assert.Equal(t, int64(jobCount), handled.Load())
	for _, job := range ids {
		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, got.State)
	}
}

func TestPool_FailedJobBecomesRetryable(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	registry.MustRegister("t", HandlerFunc(func(ctx context.Context, job *Job) error {
		return errors.New("transient failure")
	}))

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 3})
	require.NoError(t, err)

	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return pool.Metrics().Failed == 1
	})

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, got.State)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "transient failure", got.Errors[0].Error)
}

func TestPool_UnknownKindIsDiscarded(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "never.registered", Queue: "q"})
	require.NoError(t, err)

	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return pool.Metrics().Discarded == 1
	})

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDiscarded, got.State)
}

func TestPool_PanicIsRecoveredAndRetried(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	registry.MustRegister("t", HandlerFunc(func(ctx context.Context, job *Job) error {
		panic("handler bug")
	}))

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 5})
	require.NoError(t, err)

	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return pool.Metrics().Failed == 1
	})

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, got.State)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0].Error, "handler panic")
}

func TestPool_ConcurrencyBound(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	var active, peak atomic.Int64
	release := make(chan struct{})
	registry.MustRegister("t", HandlerFunc(func(ctx context.Context, job *Job) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		_, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
		require.NoError(t, err)
	}

	const concurrency = 3
	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  concurrency,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()

	waitFor(t, 5*time.Second, func() bool {
		return active.Load() == concurrency
	})
	// Give the pool a few more polls to try to over-claim
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(concurrency), peak.Load())

	close(release)
	waitFor(t, 5*time.Second, func() bool {
		return pool.Metrics().Completed == 10
	})
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_StopWaitsForInFlight(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry()
	ctx := context.Background()

	started := make(chan struct{})
	registry.MustRegister("t", HandlerFunc(func(ctx context.Context, job *Job) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
	require.NoError(t, err)

	pool := NewPool(store, registry, PoolConfig{
		Queue:        "q",
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, logger.NewLogger())
	pool.Start()

	<-started
	require.NoError(t, pool.Stop(context.Background()))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State, "in-flight job should finish before Stop returns")
}
