package runtime

import (
	"context"
	"errors"
	"time"

	"poolwarden/internal/config"
	"poolwarden/internal/jobs/health"
	"poolwarden/internal/jobs/metering"
	"poolwarden/internal/jobs/sync"
	"poolwarden/internal/support"

	"github.com/charmbracelet/log"
)

// Leader keys. Each scheduled job elects its own leader so the schedules
// fire exactly once across the fleet even with several instances running.
const (
	poolSyncLeaderKey = "poolwarden:leader:pool_sync"
	nightlyLeaderKey  = "poolwarden:leader:nightly_check"
	rollupLeaderKey   = "poolwarden:leader:usage_rollup"
)

// StartPoolSyncScheduler periodically fans one sync job per block out onto
// the shared queue. Workers on every instance consume the queue; only the
// leader enqueues.
func StartPoolSyncScheduler(ctx context.Context, syncer *sync.Syncer, queue *sync.BlockQueue) {
	go func() {
		err := support.RunWithLeader(ctx, poolSyncLeaderKey, 0, func(leaderCtx context.Context) {
			runOnInterval(leaderCtx, config.PoolSyncIntervalUpdates(), func(runCtx context.Context) {
				if _, err := syncer.EnqueueAllBlocks(runCtx, queue); err != nil {
					log.Error("enqueue pool sync jobs", "error", err)
				}
			})
		})
		logSchedulerExit("pool sync", err)
	}()
}

// StartNightlyCheckScheduler runs the sampled health batch on the nightly
// cadence. The checker is rebuilt per run so timeout and threshold changes
// in settings take effect without a restart.
func StartNightlyCheckScheduler(ctx context.Context, runner health.Runner) {
	go func() {
		err := support.RunWithLeader(ctx, nightlyLeaderKey, 0, func(leaderCtx context.Context) {
			runOnInterval(leaderCtx, config.NightlyCheckIntervalUpdates(), func(runCtx context.Context) {
				checker := health.CheckerFromConfig(runner)
				if _, err := checker.NightlyHealthCheck(runCtx); err != nil {
					log.Error("nightly health check batch", "error", err)
				}
			})
		})
		logSchedulerExit("nightly health check", err)
	}()
}

func StartRollupScheduler(ctx context.Context, meter *metering.Meter) {
	go func() {
		err := support.RunWithLeader(ctx, rollupLeaderKey, 0, func(leaderCtx context.Context) {
			runOnInterval(leaderCtx, config.RollupIntervalUpdates(), func(runCtx context.Context) {
				if _, err := meter.RollupAndMeter(runCtx); err != nil {
					log.Error("usage rollup pass", "error", err)
				}
			})
		})
		logSchedulerExit("usage rollup", err)
	}()
}

// runOnInterval fires job on a ticker whose period follows the settings
// file. The updates channel delivers the current interval first, then every
// change.
func runOnInterval(ctx context.Context, updates <-chan time.Duration, job func(context.Context)) {
	interval := time.Hour
	select {
	case interval = <-updates:
	default:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				log.Debug("scheduler interval updated", "interval", interval)
			}
		case <-ticker.C:
			job(ctx)
		}
	}
}

func logSchedulerExit(name string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped", "job", name, "error", err)
	}
}
