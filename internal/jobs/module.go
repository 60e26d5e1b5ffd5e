package jobs

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// Queue names. Each gets its own pool sized by WorkersConfig.
const (
	QueueNotifications = "notifications"
	QueueStorage       = "storage"
	QueueThumbnails    = "thumbnails"
)

var Module = fx.Module("jobs",
	fx.Provide(
		NewRegistry,
		NewPostgresStore,
		func(s *PostgresStore) Store { return s },
		NewPools,
	),
	fx.Invoke(startPools),
)

// Pools supervises one worker pool per queue.
type Pools struct {
	pools []*Pool
	log   *slog.Logger
}

// NewPools builds the per-queue pools from worker config. Pools don't start
// polling until Start is called from the fx lifecycle, after handler
// registration has run.
func NewPools(store Store, registry *Registry, cfg *config.Config, log *slog.Logger) *Pools {
	configs := []PoolConfig{
		{Queue: QueueNotifications, Concurrency: cfg.Workers.NotificationConcurrency, PollInterval: cfg.Workers.PollInterval},
		{Queue: QueueStorage, Concurrency: cfg.Workers.StorageConcurrency, PollInterval: cfg.Workers.PollInterval},
		{Queue: QueueThumbnails, Concurrency: cfg.Workers.ThumbnailConcurrency, PollInterval: cfg.Workers.PollInterval},
	}

	pools := make([]*Pool, 0, len(configs))
	for _, pc := range configs {
		pools = append(pools, NewPool(store, registry, pc, log))
	}

	return &Pools{
		pools: pools,
		log:   log.With(logger.Scope("jobs")),
	}
}

// Metrics returns a snapshot for every pool.
func (p *Pools) Metrics() []PoolMetrics {
	out := make([]PoolMetrics, 0, len(p.pools))
	for _, pool := range p.pools {
		out = append(out, pool.Metrics())
	}
	return out
}

func startPools(lc fx.Lifecycle, pools *Pools, registry *Registry, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pools.log.Info("starting worker pools",
				slog.Int("pools", len(pools.pools)),
				slog.Any("kinds", registry.Kinds()),
			)
			for _, pool := range pools.pools {
				pool.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()

			var firstErr error
			for _, pool := range pools.pools {
				if err := pool.Stop(stopCtx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	})
}
