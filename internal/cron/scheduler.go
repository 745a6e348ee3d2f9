package cron

import (
	"context"
	"strconv"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/lock"
	"github.com/muaviaUsmani/jobyard/internal/logger"
	"github.com/muaviaUsmani/jobyard/internal/queue"
)

func stateKey(scheduleID string) string {
	return "cron:schedule:" + scheduleID
}

func lockKey(scheduleID string) string {
	return "cron:lock:" + scheduleID
}

// Scheduler periodically evaluates a Registry and enqueues due
// schedules, using a per-schedule distributed lock so that running
// multiple Scheduler processes against the same store doesn't double
// enqueue.
type Scheduler struct {
	registry *Registry
	queue    *queue.Engine
	store    *keystore.Store
	interval time.Duration
	lockTTL  time.Duration
	log      logger.Logger
}

// New returns a Scheduler evaluating registry every interval.
func New(registry *Registry, q *queue.Engine, store *keystore.Store, interval time.Duration) *Scheduler {
	return &Scheduler{
		registry: registry,
		queue:    q,
		store:    store,
		interval: interval,
		lockTTL:  60 * time.Second,
		log:      logger.Default().WithComponent(logger.ComponentScheduler),
	}
}

// SetLockTTL overrides the default per-schedule lock TTL, for testing or
// tuning against slow job enqueues.
func (s *Scheduler) SetLockTTL(ttl time.Duration) {
	s.lockTTL = ttl
}

// Run evaluates registered schedules on interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("cron scheduler started", "interval", s.interval, "schedules", s.registry.Count())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cron scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, schedule := range s.registry.List() {
		if !schedule.Enabled {
			continue
		}
		if s.isDue(ctx, schedule, now) {
			s.fire(ctx, schedule, now)
		}
	}
}

func (s *Scheduler) isDue(ctx context.Context, schedule *Schedule, now time.Time) bool {
	state, err := s.getState(ctx, schedule.ID)
	if err != nil {
		s.log.Error("failed to get schedule state", "schedule_id", schedule.ID, "error", err)
		return false
	}

	nextRun, err := s.registry.NextRun(schedule, state.LastRun)
	if err != nil {
		s.log.Error("failed to calculate next run", "schedule_id", schedule.ID, "error", err)
		return false
	}

	// 1-second buffer absorbs tick-timing jitter around the boundary.
	return now.After(nextRun.Add(-1*time.Second)) || now.Equal(nextRun)
}

func (s *Scheduler) fire(ctx context.Context, schedule *Schedule, now time.Time) {
	held, err := lock.Acquire(ctx, s.store, lockKey(schedule.ID), s.lockTTL)
	if err != nil {
		s.log.Error("failed to acquire schedule lock", "schedule_id", schedule.ID, "error", err)
		return
	}
	if held == nil {
		s.log.Debug("schedule already locked by another instance", "schedule_id", schedule.ID)
		return
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			s.log.Error("failed to release schedule lock", "schedule_id", schedule.ID, "error", err)
		}
	}()

	id, _, err := s.queue.Enqueue(ctx, schedule.Queue, schedule.Class, schedule.Args, false, "")
	if err != nil {
		s.log.Error("failed to enqueue scheduled job",
			"schedule_id", schedule.ID, "class", schedule.Class, "error", err)
		if updateErr := s.updateState(ctx, &State{ID: schedule.ID, LastRun: now, LastError: err.Error()}); updateErr != nil {
			s.log.Warn("failed to update schedule state", "schedule_id", schedule.ID, "error", updateErr)
		}
		return
	}

	s.log.Info("scheduled job enqueued",
		"schedule_id", schedule.ID, "class", schedule.Class, "job_id", id, "queue", schedule.Queue)

	nextRun, err := s.registry.NextRun(schedule, now)
	if err != nil {
		s.log.Error("failed to calculate next run time", "schedule_id", schedule.ID, "error", err)
		nextRun = time.Time{}
	}

	runCount := s.incrementRunCount(ctx, schedule.ID)
	if err := s.updateState(ctx, &State{
		ID: schedule.ID, LastRun: now, NextRun: nextRun,
		LastSuccess: now, RunCount: runCount,
	}); err != nil {
		s.log.Warn("failed to update schedule state", "schedule_id", schedule.ID, "error", err)
	}
}

// GetState exposes a schedule's persisted runtime state for monitoring.
func (s *Scheduler) GetState(ctx context.Context, scheduleID string) (*State, error) {
	return s.getState(ctx, scheduleID)
}

func (s *Scheduler) getState(ctx context.Context, scheduleID string) (*State, error) {
	fields, err := s.store.HashGetAll(ctx, stateKey(scheduleID))
	if err != nil {
		return nil, err
	}
	state := &State{ID: scheduleID}
	if len(fields) == 0 {
		return state, nil
	}

	if v, ok := fields["last_run"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			state.LastRun = t
		}
	}
	if v, ok := fields["next_run"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			state.NextRun = t
		}
	}
	if v, ok := fields["last_success"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			state.LastSuccess = t
		}
	}
	if v, ok := fields["last_error"]; ok {
		state.LastError = v
	}
	if v, ok := fields["run_count"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			state.RunCount = n
		}
	}
	return state, nil
}

func (s *Scheduler) updateState(ctx context.Context, state *State) error {
	fields := map[string]string{
		"last_run": state.LastRun.Format(time.RFC3339),
	}
	if !state.NextRun.IsZero() {
		fields["next_run"] = state.NextRun.Format(time.RFC3339)
	}
	if !state.LastSuccess.IsZero() {
		fields["last_success"] = state.LastSuccess.Format(time.RFC3339)
	}
	if state.LastError != "" {
		fields["last_error"] = state.LastError
	} else {
		if err := s.store.HashDel(ctx, stateKey(state.ID), "last_error"); err != nil {
			return err
		}
	}
	return s.store.HashSet(ctx, stateKey(state.ID), fields)
}

func (s *Scheduler) incrementRunCount(ctx context.Context, scheduleID string) int64 {
	state, err := s.getState(ctx, scheduleID)
	if err != nil {
		s.log.Error("failed to read run count", "schedule_id", scheduleID, "error", err)
		return 0
	}
	return state.RunCount + 1
}
