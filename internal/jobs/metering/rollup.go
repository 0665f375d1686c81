// Package metering rolls unmetered usage rows up into whole-credit reports
// against the billing API. Sub-credit remainders stay unmetered and carry
// into the next pass; the final pass of a billing month closes them out.
package metering

import (
	"context"
	"time"

	"poolwarden/internal/billing"
	"poolwarden/internal/database"
	"poolwarden/internal/domain"
	"poolwarden/internal/metrics"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Meter struct {
	reporter billing.UsageReporter
	now      func() time.Time
}

func NewMeter(reporter billing.UsageReporter) *Meter {
	return &Meter{reporter: reporter, now: time.Now}
}

// WithClock pins the meter's notion of now; tests use it to place a run on
// or off the last day of a month.
func (meter *Meter) WithClock(now func() time.Time) *Meter {
	if now != nil {
		meter.now = now
	}
	return meter
}

type RollupStats struct {
	Owners   int
	Reported int
	Credits  int64
	Skipped  int
	Errors   int
}

// RollupAndMeter runs one metering pass over the current billing month.
// Owners are settled independently; a billing failure for one owner is
// logged and counted but never blocks the rest of the batch.
func (meter *Meter) RollupAndMeter(ctx context.Context) (RollupStats, error) {
	now := meter.now().UTC()
	periodStart, periodEnd := monthBounds(now)
	closeOut := lastDayOfMonth(now)

	owners, err := database.OwnersWithUnmeteredUsage(periodStart, periodEnd)
	if err != nil {
		return RollupStats{}, err
	}

	stats := RollupStats{Owners: len(owners)}
	for _, owner := range owners {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		reported, err := meter.settleOwner(ctx, owner, periodStart, periodEnd, closeOut)
		if err != nil {
			metrics.BillingReportErrors.Inc()
			stats.Errors++
			log.Error("usage rollup failed for owner", "owner", owner.Key(), "error", err)
			continue
		}
		if reported == 0 {
			stats.Skipped++
			continue
		}

		stats.Reported++
		stats.Credits += reported
	}

	if stats.Reported > 0 || stats.Errors > 0 {
		log.Info("usage rollup finished",
			"owners", stats.Owners,
			"reported", stats.Reported,
			"credits", stats.Credits,
			"errors", stats.Errors)
	}
	return stats, nil
}

// settleOwner reports the owner's unmetered usage and marks the rows inside
// one transaction, so a failed report leaves the rows available for the next
// pass under the same idempotency key.
func (meter *Meter) settleOwner(ctx context.Context, owner domain.OwnerRef, periodStart, periodEnd time.Time, closeOut bool) (int64, error) {
	billable, err := database.OwnerBillable(owner)
	if err != nil {
		return 0, err
	}
	if !billable {
		log.Debug("skipping unbillable owner", "owner", owner.Key())
		return 0, nil
	}

	var credits int64
	err = database.WithTransaction(func(tx *gorm.DB) error {
		records, err := database.UnmeteredUsageForOwner(tx, owner, periodStart, periodEnd)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		total := decimal.Zero
		ids := make([]uint64, 0, len(records))
		maxRowID := uint64(0)
		for _, record := range records {
			total = total.Add(record.CreditsCost)
			ids = append(ids, record.ID)
			if record.ID > maxRowID {
				maxRowID = record.ID
			}
		}

		quantity := total.Round(0).IntPart()
		if quantity <= 0 {
			if !closeOut {
				// Sub-credit remainder; leave the rows for the next pass.
				return nil
			}
			// Month end: the remainder is forgiven, the rows are settled.
			return database.MarkUsageRecordsMetered(tx, ids)
		}

		key := billing.IdempotencyKey(owner, periodStart, maxRowID)
		if err := meter.reporter.ReportUsage(ctx, owner, quantity, key); err != nil {
			return err
		}
		if err := database.MarkUsageRecordsMetered(tx, ids); err != nil {
			return err
		}

		credits = quantity
		metrics.UsageCreditsReported.Add(float64(quantity))
		return nil
	})
	if err != nil {
		return 0, err
	}

	return credits, nil
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func lastDayOfMonth(now time.Time) bool {
	return now.AddDate(0, 0, 1).Month() != now.Month()
}
