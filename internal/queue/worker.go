package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"flowengine/internal/api/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is what running a task produced.
type Outcome struct {
	ExecutionID string
	Output      any
	Failed      bool
	Error       string
}

// ExecuteFunc runs a claimed task. A returned error means the task could not
// be run at all and is failed without retry; a failed Outcome is retried while
// attempts remain, and only for tasks enqueued with RetryFailed.
type ExecuteFunc func(ctx context.Context, task models.Task) (Outcome, error)

// TransitionRecorder counts task status changes.
type TransitionRecorder interface {
	IncTaskTransition(status string)
}

type PoolOptions struct {
	Workers       int
	PollInterval  time.Duration
	ReapInterval  time.Duration
	LeaseDuration time.Duration
}

// WorkerPool claims tasks and runs them with bounded concurrency.
type WorkerPool struct {
	queue    Queue
	execute  ExecuteFunc
	recorder TransitionRecorder
	logger   zerolog.Logger
	workerID string

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workerPool chan struct{}

	maxWorkers        int
	pollInterval      time.Duration
	reapInterval      time.Duration
	heartbeatInterval time.Duration
}

func NewWorkerPool(queue Queue, execute ExecuteFunc, options PoolOptions, recorder TransitionRecorder, logger zerolog.Logger) *WorkerPool {
	if options.Workers <= 0 {
		options.Workers = 4
	}
	if options.PollInterval <= 0 {
		options.PollInterval = time.Second
	}
	if options.ReapInterval <= 0 {
		options.ReapInterval = 30 * time.Second
	}
	if options.LeaseDuration <= 0 {
		options.LeaseDuration = DefaultLeaseDuration
	}
	host, _ := os.Hostname()
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:             queue,
		execute:           execute,
		recorder:          recorder,
		logger:            logger,
		workerID:          fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		ctx:               ctx,
		cancel:            cancel,
		workerPool:        make(chan struct{}, options.Workers),
		maxWorkers:        options.Workers,
		pollInterval:      options.PollInterval,
		reapInterval:      options.ReapInterval,
		heartbeatInterval: options.LeaseDuration / 3,
	}
}

func (slf *WorkerPool) Start() {
	slf.logger.Info().Int("maxWorkers", slf.maxWorkers).Str("workerId", slf.workerID).Msg("Starting worker pool")
	go slf.dispatcher()
	go slf.reaper()
}

// Stop cancels in-flight runs and waits for workers. Interrupted tasks keep
// their lease and are requeued by a reaper once it expires.
func (slf *WorkerPool) Stop() {
	slf.logger.Info().Msg("Stopping worker pool")
	slf.cancel()
	slf.wg.Wait()
	slf.logger.Info().Msg("Worker pool stopped")
}

func (slf *WorkerPool) dispatcher() {
	defer func() {
		if r := recover(); r != nil {
			slf.logger.Error().Interface("panic", r).Msg("Task dispatcher panicked, restarting")
			go slf.dispatcher()
		}
	}()

	slf.dispatchWork()

	ticker := time.NewTicker(slf.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-slf.ctx.Done():
			return
		case <-ticker.C:
			slf.dispatchWork()
		}
	}
}

// dispatchWork claims tasks until the queue is empty or every slot is taken.
func (slf *WorkerPool) dispatchWork() {
	for slf.ctx.Err() == nil {
		select {
		case slf.workerPool <- struct{}{}:
		default:
			slf.logger.Debug().Msg("Workers busy")
			return
		}

		task, err := slf.queue.Claim(slf.ctx, slf.workerID)
		if err != nil {
			<-slf.workerPool
			if !errors.Is(err, ErrNoTask) && !errors.Is(err, context.Canceled) {
				slf.logger.Error().Err(err).Msg("Error claiming task")
			}
			return
		}
		slf.record(models.TaskStatusRunning)

		slf.wg.Add(1)
		go slf.runTask(*task)
	}
}

func (slf *WorkerPool) runTask(task models.Task) {
	defer func() {
		<-slf.workerPool
		slf.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			slf.logger.Error().Interface("panic", r).Str("taskId", task.ID).Msg("Task worker panicked")
			slf.finish(task, Outcome{}, fmt.Errorf("worker panic: %v", r))
		}
	}()

	log := slf.logger.With().Str("taskId", task.ID).Uint("workflowId", task.WorkflowID).Int("attempt", task.Attempts).Logger()
	log.Info().Msg("Running task")

	runCtx, cancelRun := context.WithCancel(slf.ctx)
	defer cancelRun()
	go slf.heartbeat(runCtx, cancelRun, task.ID)

	outcome, err := slf.execute(runCtx, task)
	if slf.ctx.Err() != nil {
		log.Warn().Msg("Task interrupted by shutdown")
		return
	}
	if errors.Is(runCtx.Err(), context.Canceled) {
		log.Warn().Msg("Task lease lost, dropping result")
		return
	}
	slf.finish(task, outcome, err)
}

func (slf *WorkerPool) finish(task models.Task, outcome Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch {
	case runErr != nil:
		err = slf.queue.Fail(ctx, task.ID, slf.workerID, outcome.ExecutionID, runErr.Error(), false)
		slf.record(models.TaskStatusFailed)
	case outcome.Failed:
		retry := task.RetryFailed && task.Attempts < task.MaxAttempts
		err = slf.queue.Fail(ctx, task.ID, slf.workerID, outcome.ExecutionID, outcome.Error, retry)
		if retry {
			slf.record(models.TaskStatusPending)
		} else {
			slf.record(models.TaskStatusFailed)
		}
	default:
		err = slf.queue.Complete(ctx, task.ID, slf.workerID, outcome.ExecutionID, outcome.Output)
		slf.record(models.TaskStatusCompleted)
	}
	if err != nil {
		slf.logger.Error().Err(err).Str("taskId", task.ID).Msg("Error storing task result")
		return
	}
	slf.logger.Info().Str("taskId", task.ID).Str("executionId", outcome.ExecutionID).Bool("failed", runErr != nil || outcome.Failed).Msg("Task finished")
}

// heartbeat extends the lease until the run ends. Losing the lease cancels the run.
func (slf *WorkerPool) heartbeat(ctx context.Context, cancelRun context.CancelFunc, taskID string) {
	ticker := time.NewTicker(slf.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := slf.queue.Heartbeat(ctx, taskID, slf.workerID)
			if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrTaskNotFound) {
				slf.logger.Warn().Str("taskId", taskID).Msg("Task lease lost")
				cancelRun()
				return
			}
			if err != nil && ctx.Err() == nil {
				slf.logger.Warn().Err(err).Str("taskId", taskID).Msg("Heartbeat error")
			}
		}
	}
}

func (slf *WorkerPool) reaper() {
	defer func() {
		if r := recover(); r != nil {
			slf.logger.Error().Interface("panic", r).Msg("Task reaper panicked, restarting")
			go slf.reaper()
		}
	}()

	ticker := time.NewTicker(slf.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-slf.ctx.Done():
			return
		case <-ticker.C:
			requeued, failed, err := slf.queue.RequeueExpired(slf.ctx, time.Now())
			if err != nil {
				slf.logger.Error().Err(err).Msg("Error requeuing expired tasks")
				continue
			}
			if requeued+failed > 0 {
				slf.logger.Warn().Int("requeued", requeued).Int("failed", failed).Msg("Expired task leases recovered")
			}
			for i := 0; i < requeued; i++ {
				slf.record(models.TaskStatusPending)
			}
			for i := 0; i < failed; i++ {
				slf.record(models.TaskStatusFailed)
			}
		}
	}
}

func (slf *WorkerPool) record(status models.TaskStatus) {
	if slf.recorder != nil {
		slf.recorder.IncTaskTransition(string(status))
	}
}
