// Package scheduler runs periodic queue maintenance: promoting due retryable
// jobs and reclaiming jobs abandoned by dead workers.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(registerLifecycle),
)

// AbandonedThreshold is how long a job may sit in running before it is
// considered abandoned. It must comfortably exceed the longest legitimate
// handler runtime.
const AbandonedThreshold = 10 * time.Minute

// Scheduler wraps a cron runner with the queue maintenance tasks.
type Scheduler struct {
	cron  *cron.Cron
	store jobs.Store
	log   *slog.Logger
}

// NewScheduler creates the maintenance scheduler.
func NewScheduler(store jobs.Store, log *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		store: store,
		log:   log.With(logger.Scope("scheduler")),
	}

	if _, err := s.cron.AddFunc("@every 30s", s.promoteRetryable); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@every 1m", s.reclaimAbandoned); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@every 5m", s.logQueueStats); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins running the scheduled tasks.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// promoteRetryable moves due retryable jobs back to available. Claim does
// this per-queue on its own; this sweep covers queues with no active pool.
func (s *Scheduler) promoteRetryable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.PromoteRetryable(ctx)
	if err != nil {
		s.log.Error("promote retryable failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("promoted retryable jobs", slog.Int("count", n))
	}
}

// reclaimAbandoned returns jobs stuck in running to the retry path.
func (s *Scheduler) reclaimAbandoned() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.ReclaimAbandoned(ctx, AbandonedThreshold)
	if err != nil {
		s.log.Error("reclaim abandoned failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.log.Warn("reclaimed abandoned jobs", slog.Int("count", n))
	}
}

// logQueueStats emits per-queue depth for observability.
func (s *Scheduler) logQueueStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queues, err := s.store.Queues(ctx)
	if err != nil {
		s.log.Error("list queues failed", logger.Error(err))
		return
	}

	for _, queue := range queues {
		stats, err := s.store.Stats(ctx, queue)
		if err != nil {
			s.log.Error("queue stats failed", slog.String("queue", queue), logger.Error(err))
			continue
		}
		s.log.Info("queue depth",
			slog.String("queue", queue),
			slog.Int("available", stats.Available),
			slog.Int("running", stats.Running),
			slog.Int("retryable", stats.Retryable),
			slog.Int("discarded", stats.Discarded),
		)
	}
}

func registerLifecycle(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Sweep once at startup so jobs orphaned by the previous process
			// don't wait for the first cron tick
			s.reclaimAbandoned()
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
