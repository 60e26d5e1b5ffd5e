package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same state machine as
// PostgresStore. It backs tests and local development without a database.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*Job)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	job, err := buildJob(params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return copyJob(job), nil
}

func (s *MemoryStore) Claim(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// Promote due retryable rows first, same as the Postgres claim path
	for _, job := range s.jobs {
		if job.Queue == queue && job.State == StateRetryable && !job.ScheduledAt.After(now) {
			job.State = StateAvailable
			job.UpdatedAt = now
		}
	}

	var runnable []*Job
	for _, job := range s.jobs {
		if job.Queue == queue && job.State == StateAvailable && !job.ScheduledAt.After(now) {
			runnable = append(runnable, job)
		}
	}
	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority < runnable[j].Priority
		}
		return runnable[i].ScheduledAt.Before(runnable[j].ScheduledAt)
	})
	if len(runnable) > limit {
		runnable = runnable[:limit]
	}

	claimed := make([]*Job, 0, len(runnable))
	for _, job := range runnable {
		job.State = StateRunning
		job.Attempt++
		attemptedAt := now
		job.AttemptedAt = &attemptedAt
		job.UpdatedAt = now
		claimed = append(claimed, copyJob(job))
	}
	return claimed, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.State != StateRunning {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	now := time.Now()
	job.State = StateCompleted
	job.FinalizedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.State != StateRunning {
		return fmt.Errorf("fail job %s: not running (state %s)", id, job.State)
	}

	now := time.Now()
	job.Errors = append(job.Errors, AttemptError{
		Attempt: job.Attempt,
		Error:   truncateError(jobErr),
		At:      now,
	})

	if IsDiscard(jobErr) || job.Attempt >= job.MaxAttempts {
		job.State = StateDiscarded
		job.FinalizedAt = &now
	} else {
		job.State = StateRetryable
		job.ScheduledAt = now.Add(retryDelay(job.Attempt))
	}
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryStore) PromoteRetryable(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	promoted := 0
	for _, job := range s.jobs {
		if job.State == StateRetryable && !job.ScheduledAt.After(now) {
			job.State = StateAvailable
			job.UpdatedAt = now
			promoted++
		}
	}
	return promoted, nil
}

func (s *MemoryStore) ReclaimAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-olderThan)
	reclaimed := 0
	for _, job := range s.jobs {
		if job.State != StateRunning || job.AttemptedAt == nil || !job.AttemptedAt.Before(cutoff) {
			continue
		}
		if job.Attempt >= job.MaxAttempts {
			job.State = StateDiscarded
			job.FinalizedAt = &now
		} else {
			job.State = StateRetryable
			job.ScheduledAt = now
		}
		job.UpdatedAt = now
		reclaimed++
	}
	return reclaimed, nil
}

func (s *MemoryStore) Queues(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, job := range s.jobs {
		if !job.Finalized() {
			seen[job.Queue] = true
		}
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues, nil
}

func (s *MemoryStore) Stats(ctx context.Context, queue string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	for _, job := range s.jobs {
		if queue != "" && job.Queue != queue {
			continue
		}
		switch job.State {
		case StateAvailable:
			stats.Available++
		case StateRunning:
			stats.Running++
		case StateRetryable:
			stats.Retryable++
		case StateCompleted:
			stats.Completed++
		case StateDiscarded:
			stats.Discarded++
		}
	}
	return stats, nil
}

func copyJob(job *Job) *Job {
	out := *job
	out.Args = append([]byte(nil), job.Args...)
	out.Errors = append([]AttemptError(nil), job.Errors...)
	if job.AttemptedAt != nil {
		t := *job.AttemptedAt
		out.AttemptedAt = &t
	}
	if job.FinalizedAt != nil {
		t := *job.FinalizedAt
		out.FinalizedAt = &t
	}
	return &out
}
