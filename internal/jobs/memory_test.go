package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_EnqueueDefaults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "test.job"})
	require.NoError(t, err)

	assert.Equal(t, "test.job", job.Kind)
	assert.Equal(t, DefaultQueue, job.Queue)
	assert.Equal(t, StateAvailable, job.State)
	assert.Equal(t, int16(1), job.Priority)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.JSONEq(t, `{}`, string(job.Args))
}

func TestMemoryStore_EnqueueRequiresKind(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Enqueue(context.Background(), EnqueueParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind is required")
}

func TestMemoryStore_ClaimOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Enqueue out of priority order; low priority value runs first
	low, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", Priority: 10})
	require.NoError(t, err)
	high, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", Priority: 1})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, high.ID, claimed[0].ID)

	claimed, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, low.ID, claimed[0].ID)
}

func TestMemoryStore_ClaimTransitionsToRunning(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "q", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, StateRunning, claimed[0].State)
	assert.Equal(t, 1, claimed[0].Attempt)
	assert.NotNil(t, claimed[0].AttemptedAt)

	// Already claimed; nothing left
	claimed, err = store.Claim(ctx, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
}

func TestMemoryStore_ClaimSkipsFutureScheduled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Enqueue(ctx, EnqueueParams{
		Kind:        "t",
		Queue:       "q",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMemoryStore_ClaimIsolatesQueues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "other"})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMemoryStore_CompleteFinalizes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, job.ID))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.NotNil(t, got.FinalizedAt)
	assert.True(t, got.Finalized())
}

func TestMemoryStore_CompleteRequiresRunning(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
	require.NoError(t, err)

	err = store.Complete(ctx, job.ID)
	require.Error(t, err)

	err = store.Complete(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FailSchedulesRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, job.ID, errors.New("smtp timeout")))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, got.State)
	assert.True(t, got.ScheduledAt.After(time.Now()), "retry should be scheduled in the future")
	require.Len(t, got.Errors, 1)
	assert.Equal(t, 1, got.Errors[0].Attempt)
	assert.Equal(t, "smtp timeout", got.Errors[0].Error)
}

func TestMemoryStore_FailDiscardsAfterBudget(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 2})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		// Make any retry delay immediately due; Claim promotes it itself
		store.mu.Lock()
		store.jobs[job.ID].ScheduledAt = time.Now().Add(-time.Second)
		store.mu.Unlock()

		claimed, err := store.Claim(ctx, "q", 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d should claim the job", attempt)

		require.NoError(t, store.Fail(ctx, job.ID, errors.New("boom")))
	}

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDiscarded, got.State)
	assert.NotNil(t, got.FinalizedAt)
	assert.Len(t, got.Errors, 2, "error history should keep every attempt")

	// Attempt count never exceeds the budget
	assert.LessOrEqual(t, got.Attempt, got.MaxAttempts)
}

func TestMemoryStore_FailDiscardImmediately(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 10})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, job.ID, Discard(errors.New("template syntax error"))))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDiscarded, got.State, "discard errors skip remaining attempts")
}

func TestMemoryStore_PromoteRetryable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, job.ID, errors.New("transient")))

	// Not yet due
	n, err := store.PromoteRetryable(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	store.mu.Lock()
	store.jobs[job.ID].ScheduledAt = time.Now().Add(-time.Second)
	store.mu.Unlock()

	n, err = store.PromoteRetryable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, got.State)
}

func TestMemoryStore_ReclaimAbandoned(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)

	// Fresh running job is not reclaimed
	n, err := store.ReclaimAbandoned(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	stale := time.Now().Add(-time.Hour)
	store.mu.Lock()
	store.jobs[job.ID].AttemptedAt = &stale
	store.mu.Unlock()

	n, err = store.ReclaimAbandoned(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, got.State)
}

func TestMemoryStore_ReclaimAbandonedDiscardsExhausted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", 1)
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	store.mu.Lock()
	store.jobs[job.ID].AttemptedAt = &stale
	store.mu.Unlock()

	n, err := store.ReclaimAbandoned(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDiscarded, got.State, "exhausted budget during reclaim discards the job")
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
		require.NoError(t, err)
	}
	claimed, err := store.Claim(ctx, "q", 1)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, claimed[0].ID))

	stats, err := store.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, 1, stats.Completed)

	// Unknown queue is empty, not an error
	stats, err = store.Stats(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestMemoryStore_Queues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "beta"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "alpha"})
	require.NoError(t, err)

	queues, err := store.Queues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, queues)
}

// Every job is claimed exactly once even under heavy claim concurrency.
func TestMemoryStore_ConcurrentClaimExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const jobCount = 200
	for i := 0; i < jobCount; i++ {
		_, err := store.Enqueue(ctx, EnqueueParams{Kind: "t", Queue: "q"})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.Claim(ctx, "q", 5)
				if !assert.NoError(t, err) {
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, job := range claimed {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobCount, "every job should be claimed")
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}
