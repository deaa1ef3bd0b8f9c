package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/notify"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

// Janitor performs periodic housekeeping: pruning expired store records on
// backends without native expiry, and refreshing gauges.
type Janitor struct {
	st       store.Store
	pool     *notify.Pool
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(st store.Store, pool *notify.Pool, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{st: st, pool: pool, interval: interval, log: log}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	// Redis expires keys natively; only embedded backends implement Pruner.
	if pruner, ok := j.st.(store.Pruner); ok {
		pruned, err := pruner.PruneExpired(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("janitor: prune expired records failed")
		} else if pruned > 0 {
			metrics.StoreKeysPruned.Add(float64(pruned))
			j.log.Info().Int("count", pruned).Msg("janitor: pruned expired records")
		}
	}

	if j.pool != nil {
		metrics.WebhookQueueDepth.Set(float64(j.pool.Depth()))
	}

	j.log.Debug().Msg("janitor: tick complete")
}
