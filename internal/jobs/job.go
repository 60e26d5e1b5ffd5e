// Package jobs implements a durable Postgres-backed job queue with
// at-least-once delivery. Producers enqueue job rows (optionally inside the
// same transaction as their domain writes); per-queue worker pools claim rows
// with FOR UPDATE SKIP LOCKED and run registered handlers. Failed jobs retry
// with quadratic backoff until their attempt budget runs out, then land in
// the discarded state with their error history intact.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Job states. A job moves available -> running, and from running to exactly
// one of completed, retryable, or discarded. Retryable rows move back to
// available once their scheduled_at passes.
const (
	StateAvailable = "available"
	StateRunning   = "running"
	StateRetryable = "retryable"
	StateCompleted = "completed"
	StateDiscarded = "discarded"
)

// DefaultQueue is used when an enqueue doesn't name a queue.
const DefaultQueue = "default"

// DefaultMaxAttempts bounds retries when an enqueue doesn't set a budget.
const DefaultMaxAttempts = 3

// Job is a single unit of queued work
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID       uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Kind     string    `bun:"kind,notnull" json:"kind"`
	Queue    string    `bun:"queue,notnull,default:'default'" json:"queue"`
	State    string    `bun:"state,notnull,default:'available'" json:"state"`
	Priority int16     `bun:"priority,notnull,default:1" json:"priority"`

	// Args is the handler payload, stored as JSONB
	Args []byte `bun:"args,type:jsonb,notnull,default:'{}'" json:"args"`

	Attempt     int            `bun:"attempt,notnull,default:0" json:"attempt"`
	MaxAttempts int            `bun:"max_attempts,notnull,default:3" json:"max_attempts"`
	Errors      []AttemptError `bun:"errors,type:jsonb,notnull,default:'[]'" json:"errors"`

	ScheduledAt time.Time  `bun:"scheduled_at,notnull,default:current_timestamp" json:"scheduled_at"`
	AttemptedAt *time.Time `bun:"attempted_at" json:"attempted_at,omitempty"`
	FinalizedAt *time.Time `bun:"finalized_at" json:"finalized_at,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// AttemptError records one failed attempt in the job's error history
type AttemptError struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Finalized reports whether the job has reached a terminal state.
func (j *Job) Finalized() bool {
	return j.State == StateCompleted || j.State == StateDiscarded
}

// UnmarshalArgs decodes the job payload into v.
func (j *Job) UnmarshalArgs(v any) error {
	return json.Unmarshal(j.Args, v)
}
