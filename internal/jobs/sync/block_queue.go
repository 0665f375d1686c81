package sync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"poolwarden/internal/database"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	blockQueueKey    = "poolwarden:block_sync_queue"
	blockPopTimeout  = 2 * time.Second
	emptyQueueBreath = time.Second
)

// BlockQueue is the fire-and-forget dispatch channel for block sync jobs:
// one queue entry per block, consumed by any worker on any instance.
type BlockQueue struct {
	client *redis.Client
}

func NewBlockQueue(client *redis.Client) *BlockQueue {
	return &BlockQueue{client: client}
}

func (queue *BlockQueue) Enqueue(ctx context.Context, blockIDs ...uint) error {
	if len(blockIDs) == 0 {
		return nil
	}

	values := make([]any, 0, len(blockIDs))
	for _, id := range blockIDs {
		values = append(values, strconv.FormatUint(uint64(id), 10))
	}

	return queue.client.RPush(ctx, blockQueueKey, values...).Err()
}

// Pop blocks up to the queue timeout for the next block ID. The second
// return is false when the queue stayed empty.
func (queue *BlockQueue) Pop(ctx context.Context) (uint, bool, error) {
	res, err := queue.client.BLPop(ctx, blockPopTimeout, blockQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, nil
	}

	id, err := strconv.ParseUint(res[1], 10, 32)
	if err != nil {
		log.Warn("discarding malformed block queue entry", "value", res[1])
		return 0, false, nil
	}

	return uint(id), true, nil
}

func (queue *BlockQueue) Len(ctx context.Context) (int64, error) {
	return queue.client.LLen(ctx, blockQueueKey).Result()
}

// EnqueueAllBlocks fans out one queued job per known block.
func (syncer *Syncer) EnqueueAllBlocks(ctx context.Context, queue *BlockQueue) (int, error) {
	blockIDs, err := database.ListIPBlockIDs()
	if err != nil {
		return 0, err
	}
	if err := queue.Enqueue(ctx, blockIDs...); err != nil {
		return 0, err
	}
	log.Info("enqueued block sync jobs", "blocks", len(blockIDs))
	return len(blockIDs), nil
}

// StartWorkers consumes the block queue until ctx is cancelled. Each worker
// handles one block at a time; a failed block only costs its own job.
func (syncer *Syncer) StartWorkers(ctx context.Context, queue *BlockQueue, workers int) {
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		go syncer.workLoop(ctx, queue)
	}
}

func (syncer *Syncer) workLoop(ctx context.Context, queue *BlockQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blockID, ok, err := queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("pop block sync job", "error", err)
			time.Sleep(emptyQueueBreath)
			continue
		}
		if !ok {
			continue
		}

		if _, err := syncer.SyncBlock(ctx, blockID); err != nil {
			log.Error("block sync job failed", "block_id", blockID, "error", err)
		}
	}
}
