package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"flowengine/internal/api/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultPrefix = "flowengine:queue:"
	maxTxRetries  = 5
)

// RedisQueue keeps tasks as JSON strings, pending ids in a list, claimed ids in
// a processing list until their transition commits, and running ids in a zset
// scored by lease deadline. Every status change is a WATCHed transaction on the
// task key, so two workers can never both move the same task to running.
type RedisQueue struct {
	rdb     *redis.Client
	options Options
	prefix  string
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRedisQueue(rdb *redis.Client, options Options, logger zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:     rdb,
		options: options.withDefaults(),
		prefix:  defaultPrefix,
		logger:  logger,
		now:     time.Now,
	}
}

func (slf *RedisQueue) taskKey(id string) string   { return slf.prefix + "task:" + id }
func (slf *RedisQueue) dedupKey(key string) string { return slf.prefix + "dedup:" + key }
func (slf *RedisQueue) pendingKey() string         { return slf.prefix + "pending" }
func (slf *RedisQueue) processingKey() string      { return slf.prefix + "processing" }
func (slf *RedisQueue) leasesKey() string          { return slf.prefix + "leases" }

func (slf *RedisQueue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	task := newTask(uuid.NewString(), req, slf.options.MaxAttempts, slf.now())

	if req.DedupKey != "" {
		ok, err := slf.rdb.SetNX(ctx, slf.dedupKey(req.DedupKey), task.ID, slf.options.DedupTTL).Result()
		if err != nil {
			return "", fmt.Errorf("dedup check: %w", err)
		}
		if !ok {
			existing, err := slf.rdb.Get(ctx, slf.dedupKey(req.DedupKey)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return "", fmt.Errorf("dedup lookup: %w", err)
			}
			return existing, ErrDuplicate
		}
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	_, err = slf.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, slf.taskKey(task.ID), data, 0)
		pipe.LPush(ctx, slf.pendingKey(), task.ID)
		return nil
	})
	if err != nil {
		if req.DedupKey != "" {
			slf.rdb.Del(ctx, slf.dedupKey(req.DedupKey))
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return task.ID, nil
}

func (slf *RedisQueue) Claim(ctx context.Context, workerID string) (*models.Task, error) {
	for {
		id, err := slf.rdb.LMove(ctx, slf.pendingKey(), slf.processingKey(), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoTask
		}
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}

		var claimed *models.Task
		err = slf.update(ctx, id, func(task *models.Task, pipe redis.Pipeliner) error {
			claimed = nil
			pipe.LRem(ctx, slf.processingKey(), 1, id)
			if task.Status != models.TaskStatusPending {
				// Stale list entry, another worker already owns it.
				return nil
			}
			if err := claimTask(task, workerID, slf.now(), slf.options.LeaseDuration); err != nil {
				return err
			}
			pipe.ZAdd(ctx, slf.leasesKey(), redis.Z{Score: float64(task.LeaseUntil.UnixMilli()), Member: id})
			claimed = task
			return nil
		})
		if errors.Is(err, ErrTaskNotFound) {
			slf.rdb.LRem(ctx, slf.processingKey(), 1, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
}

func (slf *RedisQueue) Heartbeat(ctx context.Context, taskID, workerID string) error {
	return slf.update(ctx, taskID, func(task *models.Task, pipe redis.Pipeliner) error {
		if err := ownedBy(task, workerID); err != nil {
			return err
		}
		until := slf.now().Add(slf.options.LeaseDuration)
		task.LeaseUntil = &until
		pipe.ZAdd(ctx, slf.leasesKey(), redis.Z{Score: float64(until.UnixMilli()), Member: taskID})
		return nil
	})
}

func (slf *RedisQueue) Complete(ctx context.Context, taskID, workerID, executionID string, result any) error {
	return slf.update(ctx, taskID, func(task *models.Task, pipe redis.Pipeliner) error {
		if err := ownedBy(task, workerID); err != nil {
			return err
		}
		if err := completeTask(task, executionID, result, slf.now()); err != nil {
			return err
		}
		pipe.ZRem(ctx, slf.leasesKey(), taskID)
		return nil
	})
}

func (slf *RedisQueue) Fail(ctx context.Context, taskID, workerID, executionID, message string, retry bool) error {
	return slf.update(ctx, taskID, func(task *models.Task, pipe redis.Pipeliner) error {
		if err := ownedBy(task, workerID); err != nil {
			return err
		}
		return slf.release(ctx, pipe, task, executionID, message, retry)
	})
}

func (slf *RedisQueue) Get(ctx context.Context, taskID string) (models.Task, error) {
	data, err := slf.rdb.Get(ctx, slf.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return models.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return task, nil
}

func (slf *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) (int, int, error) {
	ids, err := slf.rdb.ZRangeByScore(ctx, slf.leasesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("scan leases: %w", err)
	}

	requeued, failed := 0, 0
	for _, id := range ids {
		var back, expired bool
		err := slf.update(ctx, id, func(task *models.Task, pipe redis.Pipeliner) error {
			back, expired = false, false
			if task.Status != models.TaskStatusRunning {
				pipe.ZRem(ctx, slf.leasesKey(), id)
				return nil
			}
			if task.LeaseUntil != nil && task.LeaseUntil.After(now) {
				// Heartbeat landed after the scan.
				return nil
			}
			expired = true
			back = task.Attempts < task.MaxAttempts
			return slf.release(ctx, pipe, task, "", leaseExpiredMessage, true)
		})
		if errors.Is(err, ErrTaskNotFound) {
			slf.rdb.ZRem(ctx, slf.leasesKey(), id)
			continue
		}
		if err != nil {
			return requeued, failed, err
		}
		switch {
		case !expired:
		case back:
			requeued++
		default:
			failed++
		}
	}

	if err := slf.recoverStranded(ctx); err != nil {
		return requeued, failed, err
	}
	return requeued, failed, nil
}

// recoverStranded puts back ids left in the processing list by a worker that
// died between LMOVE and its transition.
func (slf *RedisQueue) recoverStranded(ctx context.Context) error {
	ids, err := slf.rdb.LRange(ctx, slf.processingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan processing: %w", err)
	}
	for _, id := range ids {
		task, err := slf.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
		if err == nil && task.Status == models.TaskStatusPending {
			slf.logger.Warn().Str("taskId", id).Msg("Recovering stranded task")
			slf.rdb.RPush(ctx, slf.pendingKey(), id)
		}
		slf.rdb.LRem(ctx, slf.processingKey(), 1, id)
	}
	return nil
}

// release fails or requeues a running task inside an update.
func (slf *RedisQueue) release(ctx context.Context, pipe redis.Pipeliner, task *models.Task, executionID, message string, retry bool) error {
	back, err := failTask(task, executionID, message, retry, slf.now())
	if err != nil {
		return err
	}
	pipe.ZRem(ctx, slf.leasesKey(), task.ID)
	if back {
		pipe.LPush(ctx, slf.pendingKey(), task.ID)
	}
	return nil
}

// update runs fn against the current task under WATCH and commits the new
// task body together with whatever fn queued on the pipeline. Terminal tasks
// get the result TTL.
func (slf *RedisQueue) update(ctx context.Context, taskID string, fn func(task *models.Task, pipe redis.Pipeliner) error) error {
	key := slf.taskKey(taskID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := slf.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrTaskNotFound
			}
			if err != nil {
				return err
			}
			var task models.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return fmt.Errorf("decode task %s: %w", taskID, err)
			}
			before := task.Status

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := fn(&task, pipe); err != nil {
					return err
				}
				body, err := json.Marshal(task)
				if err != nil {
					return err
				}
				ttl := time.Duration(0)
				if task.Status.Terminal() {
					ttl = slf.options.ResultTTL
				}
				pipe.Set(ctx, key, body, ttl)
				return nil
			})
			if err == nil && before != task.Status {
				slf.logger.Debug().Str("taskId", taskID).Str("from", string(before)).Str("to", string(task.Status)).Msg("Task transition")
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("task %s: too much contention", taskID)
}
