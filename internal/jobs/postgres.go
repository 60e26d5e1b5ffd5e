package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// maxStoredErrorLen bounds the error text kept per attempt so a pathological
// error chain can't bloat the row.
const maxStoredErrorLen = 2000

// PostgresStore is the production Store backed by the jobs table.
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a Postgres-backed job store.
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func buildJob(params EnqueueParams) (*Job, error) {
	if params.Kind == "" {
		return nil, errors.New("enqueue: kind is required")
	}

	args := params.Args
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("enqueue: marshal args: %w", err)
	}

	queue := params.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	priority := params.Priority
	if priority <= 0 {
		priority = 1
	}
	scheduledAt := params.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	return &Job{
		ID:          uuid.New(),
		Kind:        params.Kind,
		Queue:       queue,
		State:       StateAvailable,
		Priority:    priority,
		Args:        payload,
		MaxAttempts: maxAttempts,
		Errors:      []AttemptError{},
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}, nil
}

// Enqueue inserts a new available job.
func (s *PostgresStore) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	return enqueue(ctx, s.db, params)
}

// EnqueueTx inserts a job using the caller's transaction, so the job row
// commits or rolls back together with the caller's domain rows.
func (s *PostgresStore) EnqueueTx(ctx context.Context, tx bun.IDB, params EnqueueParams) (*Job, error) {
	return enqueue(ctx, tx, params)
}

func enqueue(ctx context.Context, db bun.IDB, params EnqueueParams) (*Job, error) {
	job, err := buildJob(params)
	if err != nil {
		return nil, err
	}

	if _, err := db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", params.Kind, err)
	}
	return job, nil
}

// Claim moves up to limit runnable jobs on the queue to running. Due
// retryable rows are promoted first so retries compete with fresh work under
// the same priority ordering.
func (s *PostgresStore) Claim(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	if _, err := s.promoteRetryable(ctx, queue); err != nil {
		return nil, err
	}

	var jobs []*Job
	err := s.db.NewRaw(`
		WITH claimed AS (
			SELECT id FROM jobs
			WHERE queue = ? AND state = ? AND scheduled_at <= now()
			ORDER BY priority ASC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE jobs SET
			state = ?,
			attempt = attempt + 1,
			attempted_at = now(),
			updated_at = now()
		FROM claimed
		WHERE jobs.id = claimed.id
		RETURNING jobs.*`,
		queue, StateAvailable, limit, StateRunning,
	).Scan(ctx, &jobs)
	if err != nil {
		return nil, fmt.Errorf("claim queue %s: %w", queue, err)
	}
	return jobs, nil
}

// Complete marks a running job completed.
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = ?", StateCompleted).
		Set("finalized_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("state = ?", StateRunning).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// Fail records a failed attempt and routes the job to retryable or discarded.
func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, jobErr error) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateRunning {
		return fmt.Errorf("fail job %s: not running (state %s)", id, job.State)
	}

	attemptErr := AttemptError{
		Attempt: job.Attempt,
		Error:   truncateError(jobErr),
		At:      time.Now(),
	}
	errHistory, err := json.Marshal(append(job.Errors, attemptErr))
	if err != nil {
		return fmt.Errorf("fail job %s: marshal errors: %w", id, err)
	}

	q := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("errors = ?", string(errHistory)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("state = ?", StateRunning)

	if IsDiscard(jobErr) || job.Attempt >= job.MaxAttempts {
		q = q.Set("state = ?", StateDiscarded).
			Set("finalized_at = now()")
	} else {
		q = q.Set("state = ?", StateRetryable).
			Set("scheduled_at = ?", time.Now().Add(retryDelay(job.Attempt)))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// Get returns a job by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	job := &Job{}
	err := s.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// PromoteRetryable moves due retryable jobs on all queues back to available.
func (s *PostgresStore) PromoteRetryable(ctx context.Context) (int, error) {
	return s.promoteRetryable(ctx, "")
}

func (s *PostgresStore) promoteRetryable(ctx context.Context, queue string) (int, error) {
	q := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = ?", StateAvailable).
		Set("updated_at = now()").
		Where("state = ?", StateRetryable).
		Where("scheduled_at <= now()")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("promote retryable: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReclaimAbandoned returns long-running jobs to the retry path. A job still
// marked running past the threshold belongs to a worker that died without
// finalizing it.
func (s *PostgresStore) ReclaimAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	res, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = CASE WHEN attempt >= max_attempts THEN ? ELSE ? END", StateDiscarded, StateRetryable).
		Set("finalized_at = CASE WHEN attempt >= max_attempts THEN now() ELSE finalized_at END").
		Set("scheduled_at = now()").
		Set("updated_at = now()").
		Where("state = ?", StateRunning).
		Where("attempted_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim abandoned: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Queues returns distinct queue names that still have non-finalized jobs.
func (s *PostgresStore) Queues(ctx context.Context) ([]string, error) {
	var queues []string
	err := s.db.NewSelect().
		Model((*Job)(nil)).
		ColumnExpr("DISTINCT queue").
		Where("state IN (?, ?, ?)", StateAvailable, StateRunning, StateRetryable).
		Scan(ctx, &queues)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return queues, nil
}

// Stats returns per-state counts for one queue, or all queues when empty.
func (s *PostgresStore) Stats(ctx context.Context, queue string) (*Stats, error) {
	var rows []struct {
		State string `bun:"state"`
		Count int    `bun:"count"`
	}

	q := s.db.NewSelect().
		Model((*Job)(nil)).
		Column("state").
		ColumnExpr("count(*) AS count").
		Group("state")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.State {
		case StateAvailable:
			stats.Available = row.Count
		case StateRunning:
			stats.Running = row.Count
		case StateRetryable:
			stats.Retryable = row.Count
		case StateCompleted:
			stats.Completed = row.Count
		case StateDiscarded:
			stats.Discarded = row.Count
		}
	}
	return stats, nil
}

func checkAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return msg
}
