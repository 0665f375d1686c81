package runtime

import (
	"context"
	"sync"
	"time"

	"poolwarden/internal/database"
	"poolwarden/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	usageFlushInterval  = 15 * time.Second
	usageBatchThreshold = 1000
	usageInsertTimeout  = 30 * time.Second
)

var (
	usageQueue        = make(chan domain.UsageRecord, 100_000)
	usageFlushTracker sync.WaitGroup
)

// RecordUsage enqueues one billable unit for asynchronous persistence.
// Producers never touch the database directly; rows land in batches.
func RecordUsage(record domain.UsageRecord) {
	usageQueue <- record
}

// StartUsageIngestRoutine buffers incoming usage records and flushes them
// either when the buffer fills or on the flush interval. On shutdown the
// queue is drained and the final flush is awaited so no usage is lost.
func StartUsageIngestRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	var buffer []domain.UsageRecord
	timer := time.NewTimer(usageFlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			drainUsageQueue(&buffer)
			flushUsageRecords(&buffer)
			usageFlushTracker.Wait()
			return
		case record := <-usageQueue:
			buffer = append(buffer, record)
			if len(buffer) >= usageBatchThreshold {
				flushUsageRecords(&buffer)
				resetFlushTimer(timer)
			}
		case <-timer.C:
			flushUsageRecords(&buffer)
			timer.Reset(usageFlushInterval)
		}
	}
}

func flushUsageRecords(buffer *[]domain.UsageRecord) {
	if len(*buffer) == 0 {
		return
	}

	toInsert := *buffer
	*buffer = nil

	usageFlushTracker.Add(1)
	go func(records []domain.UsageRecord) {
		defer usageFlushTracker.Done()

		dbCtx, cancel := context.WithTimeout(context.Background(), usageInsertTimeout)
		defer cancel()

		if err := database.InsertUsageRecords(dbCtx, records); err != nil {
			log.Error("insert usage records", "error", err, "count", len(records))
		}
	}(toInsert)
}

func drainUsageQueue(buffer *[]domain.UsageRecord) {
	for {
		select {
		case record := <-usageQueue:
			*buffer = append(*buffer, record)
		default:
			return
		}
	}
}

func resetFlushTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(usageFlushInterval)
}
