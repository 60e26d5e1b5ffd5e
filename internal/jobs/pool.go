package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trellis-app/trellis-core/pkg/logger"
)

// PoolConfig sizes one per-queue worker pool
type PoolConfig struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
}

// Pool polls one queue and runs claimed jobs on a bounded set of slots.
// At most Concurrency jobs run at once; the claim batch size is the number
// of currently free slots, so a slow handler never over-claims.
type Pool struct {
	store    Store
	registry *Registry
	cfg      PoolConfig
	log      *slog.Logger

	slots  chan struct{}
	active atomic.Int64

	completed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// PoolMetrics is a point-in-time snapshot of one pool's counters
type PoolMetrics struct {
	Queue     string `json:"queue"`
	Active    int    `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Discarded int64  `json:"discarded"`
}

// NewPool creates a worker pool for one queue.
func NewPool(store Store, registry *Registry, cfg PoolConfig, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &Pool{
		store:    store,
		registry: registry,
		cfg:      cfg,
		log:      log.With(logger.Scope("jobs.pool"), slog.String("queue", cfg.Queue)),
		slots:    make(chan struct{}, cfg.Concurrency),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling. It returns immediately; work happens on background
// goroutines until Stop is called.
func (p *Pool) Start() {
	p.log.Info("pool started",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval),
	)
	go p.run()
}

// Stop halts polling and waits for in-flight jobs to finish, or for ctx to
// expire. Jobs still running at the deadline stay in the running state and
// are reclaimed later as abandoned.
func (p *Pool) Stop(ctx context.Context) error {
	close(p.stop)
	<-p.done

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.log.Info("pool stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn("pool stop timed out with jobs in flight",
			slog.Int64("in_flight", p.active.Load()),
		)
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Queue:     p.cfg.Queue,
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
	}
}

func (p *Pool) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// Poll once immediately so a fresh pool doesn't idle a full interval
	p.poll()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Pool) poll() {
	free := p.cfg.Concurrency - int(p.active.Load())
	if free <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	claimed, err := p.store.Claim(ctx, p.cfg.Queue, free)
	cancel()
	if err != nil {
		p.log.Error("claim failed", logger.Error(err))
		return
	}

	for _, job := range claimed {
		p.slots <- struct{}{}
		p.active.Add(1)
		p.wg.Add(1)
		go p.execute(job)
	}
}

func (p *Pool) execute(job *Job) {
	defer func() {
		<-p.slots
		p.active.Add(-1)
		p.wg.Done()
	}()

	log := p.log.With(
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.Int("attempt", job.Attempt),
	)

	start := time.Now()
	err := p.runHandler(job)
	duration := time.Since(start)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err == nil {
		if cerr := p.store.Complete(ctx, job.ID); cerr != nil {
			log.Error("complete failed", logger.Error(cerr))
			return
		}
		p.completed.Add(1)
		log.Info("job completed", slog.Duration("duration", duration))
		return
	}

	if ferr := p.store.Fail(ctx, job.ID, err); ferr != nil {
		log.Error("fail failed", logger.Error(ferr))
		return
	}

	if IsDiscard(err) || job.Attempt >= job.MaxAttempts {
		p.discarded.Add(1)
		log.Error("job discarded",
			slog.Duration("duration", duration),
			slog.Int("max_attempts", job.MaxAttempts),
			logger.Error(err),
		)
		return
	}

	p.failed.Add(1)
	log.Warn("job failed, will retry",
		slog.Duration("duration", duration),
		slog.Duration("retry_in", retryDelay(job.Attempt)),
		logger.Error(err),
	)
}

// runHandler invokes the handler for the job's kind, converting panics and
// unknown kinds to errors. An unknown kind is discarded: no amount of
// retrying will register the handler.
func (p *Pool) runHandler(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, ok := p.registry.Lookup(job.Kind)
	if !ok {
		return Discardf("no handler registered for kind %q", job.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return handler.Handle(ctx, job)
}
