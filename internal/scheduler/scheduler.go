package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/queue"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TriggerStore is the persistence the scheduler needs.
type TriggerStore interface {
	FindEnabledByType(ctx context.Context, triggerType models.TriggerType) ([]models.Trigger, error)
	MarkFired(ctx context.Context, id uint, firedAt *time.Time, lastError string) error
	CreateLog(ctx context.Context, log *models.TriggerLog) error
}

// FiringRecorder counts trigger firings by outcome.
type FiringRecorder interface {
	IncTriggerFired(triggerType, outcome string)
}

type Options struct {
	TickPeriod time.Duration
	// Most recent missed instants replayed per trigger after downtime.
	MaxCatchUp int
}

// Scheduler turns enabled SCHEDULE triggers into queued tasks. Each scheduled
// instant is enqueued under a dedup key, so overlapping ticks or several
// scheduler replicas enqueue it once.
type Scheduler struct {
	store    TriggerStore
	queue    queue.Queue
	recorder FiringRecorder
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickPeriod time.Duration
	maxCatchUp int
	now        func() time.Time
}

func NewScheduler(store TriggerStore, q queue.Queue, options Options, recorder FiringRecorder, logger zerolog.Logger) *Scheduler {
	if options.TickPeriod <= 0 {
		options.TickPeriod = 15 * time.Second
	}
	if options.MaxCatchUp <= 0 {
		options.MaxCatchUp = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		queue:      q,
		recorder:   recorder,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		tickPeriod: options.TickPeriod,
		maxCatchUp: options.MaxCatchUp,
		now:        time.Now,
	}
}

// Start begins the tick loop
func (slf *Scheduler) Start() {
	slf.logger.Info().Dur("tick", slf.tickPeriod).Msg("Starting trigger scheduler")
	slf.wg.Add(1)
	go func() {
		defer slf.wg.Done()
		slf.dispatcher()
	}()
}

// Stop waits for the current tick to finish
func (slf *Scheduler) Stop() {
	slf.logger.Info().Msg("Stopping trigger scheduler")
	slf.cancel()
	slf.wg.Wait()
	slf.logger.Info().Msg("Trigger scheduler stopped")
}

func (slf *Scheduler) dispatcher() {
	defer func() {
		if r := recover(); r != nil {
			slf.logger.Error().Interface("panic", r).Msg("Scheduler dispatcher panicked, restarting")
			slf.wg.Add(1)
			go func() {
				defer slf.wg.Done()
				slf.dispatcher()
			}()
		}
	}()

	slf.Tick(slf.ctx, slf.now())

	ticker := time.NewTicker(slf.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-slf.ctx.Done():
			return
		case <-ticker.C:
			slf.Tick(slf.ctx, slf.now())
		}
	}
}

// Tick enqueues every instant that came due up to now.
func (slf *Scheduler) Tick(ctx context.Context, now time.Time) {
	triggers, err := slf.store.FindEnabledByType(ctx, models.TriggerTypeSchedule)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error fetching schedule triggers")
		return
	}
	for _, trigger := range triggers {
		if ctx.Err() != nil {
			return
		}
		slf.fire(ctx, trigger, now)
	}
}

func (slf *Scheduler) fire(ctx context.Context, trigger models.Trigger, now time.Time) {
	log := slf.logger.With().Uint("triggerId", trigger.ID).Uint("workflowId", trigger.WorkflowID).Logger()

	since := trigger.CreatedAt
	if trigger.LastFiredAt != nil {
		since = *trigger.LastFiredAt
	}
	due, err := DueInstants(trigger, since, now, slf.maxCatchUp)
	if err != nil {
		log.Error().Err(err).Msg("Invalid schedule")
		if trigger.LastError != err.Error() {
			if err := slf.store.MarkFired(ctx, trigger.ID, nil, err.Error()); err != nil {
				log.Error().Err(err).Msg("Error saving trigger state")
			}
		}
		return
	}
	if len(due) == 0 {
		return
	}

	var lastFired *time.Time
	lastError := ""
	for _, scheduled := range due {
		outcome, err := slf.enqueue(ctx, trigger, scheduled, now)
		slf.recordFiring(trigger, outcome)
		if err != nil {
			// Retry this instant on the next tick.
			log.Error().Err(err).Time("scheduledTime", scheduled).Msg("Error enqueuing scheduled run")
			lastError = err.Error()
			break
		}
		at := scheduled
		lastFired = &at
		log.Info().Time("scheduledTime", scheduled).Str("outcome", string(outcome)).Msg("Schedule fired")
	}

	if err := slf.store.MarkFired(ctx, trigger.ID, lastFired, lastError); err != nil {
		log.Error().Err(err).Msg("Error saving trigger state")
	}
}

func (slf *Scheduler) enqueue(ctx context.Context, trigger models.Trigger, scheduled, now time.Time) (models.TriggerLogStatus, error) {
	entry := &models.TriggerLog{
		TriggerID:     trigger.ID,
		Source:        "schedule",
		ScheduledTime: &scheduled,
		StartedAt:     now,
	}

	input, err := TriggerInput(trigger, &scheduled, nil)
	if err == nil {
		req := TaskRequest(trigger, input)
		req.DedupKey = queue.ScheduleDedupKey(trigger.ID, scheduled)
		entry.TaskID, err = slf.queue.Enqueue(ctx, req)
	}

	switch {
	case errors.Is(err, queue.ErrDuplicate):
		entry.Status = models.TriggerLogStatusDuplicate
		err = nil
	case err != nil:
		entry.Status = models.TriggerLogStatusFailed
		entry.Error = err.Error()
		entry.FinishedAt = &now
	default:
		entry.Status = models.TriggerLogStatusEnqueued
	}

	if logErr := slf.store.CreateLog(ctx, entry); logErr != nil {
		slf.logger.Warn().Err(logErr).Uint("triggerId", trigger.ID).Msg("Error writing trigger log")
	}
	return entry.Status, err
}

func (slf *Scheduler) recordFiring(trigger models.Trigger, outcome models.TriggerLogStatus) {
	if slf.recorder != nil {
		slf.recorder.IncTriggerFired(string(trigger.Type), string(outcome))
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a standard 5-field expression or a descriptor such as
// @hourly or @every 5m.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

// DueInstants lists the instants in (since, now] at which trigger should have
// fired, keeping only the latest limit of them.
func DueInstants(trigger models.Trigger, since, now time.Time, limit int) ([]time.Time, error) {
	spec, err := trigger.CronSpec()
	if err != nil {
		return nil, err
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	var due []time.Time
	for t := schedule.Next(since.UTC()); !t.IsZero() && !t.After(now); t = schedule.Next(t) {
		due = append(due, t)
		if limit > 0 && len(due) > limit {
			due = due[1:]
		}
	}
	return due, nil
}
