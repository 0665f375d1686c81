// Package maintenance runs low-priority housekeeping: pruning aged health
// check results and backfilling proxy records for discovered IPs that lost
// theirs.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"poolwarden/internal/database"
	"poolwarden/internal/jobs/sync"
	"poolwarden/internal/support"
)

const (
	envMaintenanceInterval        = "MAINTENANCE_INTERVAL"
	envMaintenanceIntervalMinutes = "MAINTENANCE_INTERVAL_MINUTES"
	envResultRetentionDays        = "HEALTH_RESULT_RETENTION_DAYS"

	defaultMaintenanceMinutes = 360
	defaultRetentionDays      = 90
	maintenanceLockKey        = "poolwarden:leader:maintenance"
)

func StartMaintenanceRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, maintenanceLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runMaintenanceLoop(leaderCtx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Maintenance routine stopped", "error", err)
	}
}

func runMaintenanceLoop(ctx context.Context) {
	interval := resolveMaintenanceInterval()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runMaintenance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runMaintenance(ctx)
		}
	}
}

func resolveMaintenanceInterval() time.Duration {
	if raw := support.GetEnv(envMaintenanceInterval, ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn("Invalid MAINTENANCE_INTERVAL value, falling back to minutes env", "value", raw)
	}

	minutes := support.GetEnvInt(envMaintenanceIntervalMinutes, defaultMaintenanceMinutes)
	if minutes <= 0 {
		minutes = defaultMaintenanceMinutes
	}

	return time.Duration(minutes) * time.Minute
}

func runMaintenance(ctx context.Context) {
	start := time.Now()

	var pruned int64
	var backfilled int

	retentionDays := support.GetEnvInt(envResultRetentionDays, defaultRetentionDays)
	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if removed, err := database.DeleteHealthCheckResultsBefore(ctx, cutoff); err != nil {
			log.Error("Failed to prune health check results", "error", err)
		} else {
			pruned = removed
		}
	}

	if created, err := sync.BackfillMissingProxyRecords(ctx); err != nil {
		log.Error("Failed to backfill missing proxy records", "error", err)
	} else {
		backfilled = created
	}

	if pruned == 0 && backfilled == 0 {
		return
	}

	log.Info(
		"Maintenance pass completed",
		"results_pruned", pruned,
		"proxies_backfilled", backfilled,
		"duration", time.Since(start),
	)
}
