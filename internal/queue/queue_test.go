package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowengine/internal/api/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	new  func(t *testing.T, options Options) Queue
}

func newRedisQueue(t *testing.T, options Options) *RedisQueue {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisQueue(rdb, options, zerolog.Nop())
}

var backends = []backend{
	{"memory", func(t *testing.T, options Options) Queue { return NewMemoryQueue(options) }},
	{"redis", func(t *testing.T, options Options) Queue { return newRedisQueue(t, options) }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newQueue func(Options) Queue)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, func(options Options) Queue { return b.new(t, options) })
		})
	}
}

func TestQueue_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue func(Options) Queue) {
		ctx := context.Background()
		q := newQueue(Options{})

		triggerID := uint(7)
		id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 3, OrganizationID: "org", TriggerID: &triggerID, Input: map[string]any{"x": "y"}})
		require.NoError(t, err)

		task, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, 1, task.MaxAttempts)

		claimed, err := q.Claim(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, id, claimed.ID)
		assert.Equal(t, models.TaskStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.Equal(t, "w1", claimed.WorkerID)
		require.NotNil(t, claimed.LeaseUntil)
		assert.Equal(t, map[string]any{"x": "y"}, claimed.Input)

		_, err = q.Claim(ctx, "w2")
		assert.ErrorIs(t, err, ErrNoTask)

		require.NoError(t, q.Heartbeat(ctx, id, "w1"))
		assert.ErrorIs(t, q.Heartbeat(ctx, id, "w2"), ErrLeaseLost)
		assert.ErrorIs(t, q.Complete(ctx, id, "w2", "exec", nil), ErrLeaseLost)

		require.NoError(t, q.Complete(ctx, id, "w1", "exec-1", map[string]any{"ok": true}))
		task, err = q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, task.Status)
		assert.Equal(t, "exec-1", task.ExecutionID)
		assert.Equal(t, map[string]any{"ok": true}, task.Result)
		assert.NotNil(t, task.CompletedAt)
		assert.Nil(t, task.LeaseUntil)

		// Terminal tasks cannot be touched again.
		assert.ErrorIs(t, q.Fail(ctx, id, "w1", "", "late", false), ErrLeaseLost)

		_, err = q.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.ErrorIs(t, q.Heartbeat(ctx, "missing", "w1"), ErrTaskNotFound)
	})
}

func TestQueue_SingleClaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue func(Options) Queue) {
		ctx := context.Background()
		q := newQueue(Options{})
		_, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1})
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				task, err := q.Claim(ctx, "w"+string(rune('a'+worker)))
				if err == nil && task != nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestQueue_Dedup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue func(Options) Queue) {
		ctx := context.Background()
		q := newQueue(Options{})
		scheduled := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
		key := ScheduleDedupKey(4, scheduled)
		assert.Equal(t, "trigger:4:1767603600", key)

		first, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1, DedupKey: key})
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1, DedupKey: key})
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.Equal(t, first, second)

		_, err = q.Claim(ctx, "w")
		require.NoError(t, err)
		_, err = q.Claim(ctx, "w")
		assert.ErrorIs(t, err, ErrNoTask, "only one task is enqueued per key")
	})
}

func TestQueue_FailRetry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue func(Options) Queue) {
		ctx := context.Background()
		q := newQueue(Options{})
		id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1, MaxAttempts: 2})
		require.NoError(t, err)

		_, err = q.Claim(ctx, "w")
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, id, "w", "exec-1", "boom", true))

		task, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, "boom", task.Error)

		again, err := q.Claim(ctx, "w")
		require.NoError(t, err)
		assert.Equal(t, 2, again.Attempts)
		assert.Empty(t, again.Error)

		require.NoError(t, q.Fail(ctx, id, "w", "exec-2", "boom again", true))
		task, err = q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusFailed, task.Status)
		assert.Equal(t, "boom again", task.Error)
		assert.Equal(t, "exec-2", task.ExecutionID)
	})
}

func TestQueue_RequeueExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue func(Options) Queue) {
		ctx := context.Background()
		q := newQueue(Options{LeaseDuration: time.Minute})

		once, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1})
		require.NoError(t, err)
		twice, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 2, MaxAttempts: 2})
		require.NoError(t, err)
		_, err = q.Claim(ctx, "dead")
		require.NoError(t, err)
		_, err = q.Claim(ctx, "dead")
		require.NoError(t, err)

		requeued, failed, err := q.RequeueExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, requeued+failed, "leases are still valid")

		requeued, failed, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)
		assert.Equal(t, 1, failed)

		task, err := q.Get(ctx, once)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusFailed, task.Status)
		assert.Equal(t, "worker lease expired", task.Error)

		task, err = q.Get(ctx, twice)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, task.Status)

		claimed, err := q.Claim(ctx, "alive")
		require.NoError(t, err)
		assert.Equal(t, twice, claimed.ID)
		assert.Equal(t, 2, claimed.Attempts)

		assert.ErrorIs(t, q.Complete(ctx, twice, "dead", "", nil), ErrLeaseLost)
	})
}

func TestRedisQueue_RecoversStrandedClaim(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, Options{})
	id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1})
	require.NoError(t, err)

	// A worker moved the id but died before committing the claim.
	moved, err := q.rdb.LMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT").Result()
	require.NoError(t, err)
	require.Equal(t, id, moved)
	_, err = q.Claim(ctx, "w")
	require.ErrorIs(t, err, ErrNoTask)

	_, _, err = q.RequeueExpired(ctx, time.Now())
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
	n, err := q.rdb.LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueue_TerminalTasksExpire(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, Options{ResultTTL: time.Hour})
	id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1})
	require.NoError(t, err)
	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)

	ttl, err := q.rdb.TTL(ctx, q.taskKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "live tasks do not expire")

	require.NoError(t, q.Complete(ctx, id, "w", "", nil))
	ttl, err = q.rdb.TTL(ctx, q.taskKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) IncTaskTransition(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[status]++
}

func (c *countingRecorder) get(status string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[status]
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{})
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: uint(i + 1)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var running, peak atomic.Int32
	execute := func(ctx context.Context, task models.Task) (Outcome, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return Outcome{ExecutionID: "exec-" + task.ID, Output: task.WorkflowID}, nil
	}

	recorder := &countingRecorder{}
	pool := NewWorkerPool(q, execute, PoolOptions{Workers: 2, PollInterval: 10 * time.Millisecond}, recorder, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			task, err := q.Get(ctx, id)
			if err != nil || task.Status != models.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 5, recorder.get("completed"))
	task, err := q.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "exec-"+ids[0], task.ExecutionID)
}

func TestWorkerPool_RetriesFailedRuns(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{})
	retried, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1, MaxAttempts: 3, RetryFailed: true})
	require.NoError(t, err)
	broken, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 2, MaxAttempts: 3, RetryFailed: true})
	require.NoError(t, err)
	once, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 3, MaxAttempts: 3})
	require.NoError(t, err)

	execute := func(ctx context.Context, task models.Task) (Outcome, error) {
		if task.WorkflowID == 2 {
			return Outcome{}, errors.New("workflow not found")
		}
		if task.WorkflowID == 3 {
			return Outcome{Failed: true, Error: "node failed"}, nil
		}
		if task.Attempts < 2 {
			return Outcome{Failed: true, Error: "flaky"}, nil
		}
		return Outcome{Output: "ok"}, nil
	}

	pool := NewWorkerPool(q, execute, PoolOptions{Workers: 1, PollInterval: 10 * time.Millisecond}, nil, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		a, _ := q.Get(ctx, retried)
		b, _ := q.Get(ctx, broken)
		c, _ := q.Get(ctx, once)
		return a.Status.Terminal() && b.Status.Terminal() && c.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	task, _ := q.Get(ctx, retried)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 2, task.Attempts)

	task, _ = q.Get(ctx, broken)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 1, task.Attempts, "errors are not retried")
	assert.Equal(t, "workflow not found", task.Error)

	task, _ = q.Get(ctx, once)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 1, task.Attempts, "failed runs are retried only on request")
	assert.Equal(t, "node failed", task.Error)
}

func TestWorkerPool_StopLeavesTaskLeased(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{})
	id, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: 1})
	require.NoError(t, err)

	started := make(chan struct{})
	execute := func(ctx context.Context, task models.Task) (Outcome, error) {
		close(started)
		<-ctx.Done()
		return Outcome{Failed: true, Error: ctx.Err().Error()}, nil
	}
	pool := NewWorkerPool(q, execute, PoolOptions{Workers: 1, PollInterval: 10 * time.Millisecond}, nil, zerolog.Nop())
	pool.Start()
	<-started
	pool.Stop()

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
}
