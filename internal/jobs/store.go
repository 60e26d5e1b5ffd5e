package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// EnqueueParams describes a job to insert
type EnqueueParams struct {
	Kind        string
	Queue       string
	Priority    int16
	Args        any
	MaxAttempts int
	// ScheduledAt delays the first run when set in the future
	ScheduledAt time.Time
}

// Stats summarizes queue depth by state
type Stats struct {
	Available int `json:"available"`
	Running   int `json:"running"`
	Retryable int `json:"retryable"`
	Completed int `json:"completed"`
	Discarded int `json:"discarded"`
}

// Store is the persistence contract for the queue. PostgresStore is the
// production implementation; MemoryStore backs tests.
type Store interface {
	// Enqueue inserts a new available job and returns it
	Enqueue(ctx context.Context, params EnqueueParams) (*Job, error)

	// Claim atomically moves up to limit runnable jobs on the queue to
	// running and returns them. Each returned job is owned by the caller:
	// no concurrent Claim will return the same row.
	Claim(ctx context.Context, queue string, limit int) ([]*Job, error)

	// Complete marks a running job completed
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records a failed attempt. If the job has attempts left it becomes
	// retryable with a backoff delay; otherwise it is discarded.
	Fail(ctx context.Context, id uuid.UUID, jobErr error) error

	// Get returns a job by id
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// PromoteRetryable moves retryable jobs whose scheduled_at has passed
	// back to available, returning the number promoted
	PromoteRetryable(ctx context.Context) (int, error)

	// ReclaimAbandoned returns running jobs whose attempt started before the
	// threshold to the retry path. Covers workers that died mid-job.
	ReclaimAbandoned(ctx context.Context, olderThan time.Duration) (int, error)

	// Queues returns the distinct queue names with non-finalized jobs
	Queues(ctx context.Context) ([]string, error)

	// Stats returns per-state counts for a queue ("" for all queues)
	Stats(ctx context.Context, queue string) (*Stats, error)
}

// discardError wraps a handler error that must not be retried: the job's
// input is bad and re-running it cannot help.
type discardError struct {
	err error
}

func (e *discardError) Error() string { return e.err.Error() }
func (e *discardError) Unwrap() error { return e.err }

// Discard marks err as permanent. Fail moves the job straight to discarded
// regardless of remaining attempts.
func Discard(err error) error {
	if err == nil {
		return nil
	}
	return &discardError{err: err}
}

// Discardf is Discard with formatting.
func Discardf(format string, args ...any) error {
	return &discardError{err: fmt.Errorf(format, args...)}
}

// IsDiscard reports whether err carries the Discard marker.
func IsDiscard(err error) bool {
	var de *discardError
	return errors.As(err, &de)
}
