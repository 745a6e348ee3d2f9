// Package delayed implements the delayed scheduler: a time-indexed
// secondary queue (`delayed_queue_schedule` sorted set plus per-timestamp
// `delayed:<ts>` lists) and the promotion loop that moves ready items
// into the primary queues.
//
// Adapted from an internal/queue/redis.go-style MoveScheduledToReady
// (ZAdd/ZRangeByScore/pipelined re-enqueue) and a distributed lock,
// generalized into a full operation set (enqueueAt/enqueueIn/
// removeDelayed/removeDelayedJobFromTimestamp/nextDelayedTimestamp/
// nextItemForTimestamp/delayedScheduleSize/sizeAtTimestamp) instead of a
// single always-promote-on-failure retry mechanism. This package is
// named internal/delayed, distinct from internal/cron, which covers the
// separate recurring-schedule feature (see DESIGN.md).
package delayed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/events"
	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/job"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/stats"
)

const scheduleKey = "delayed_queue_schedule"

func delayedKey(ts int64) string {
	return "delayed:" + strconv.FormatInt(ts, 10)
}

// Scheduler is the Delayed Scheduler capability.
type Scheduler struct {
	store   *keystore.Store
	bus     *events.Bus
	counter *stats.Counters
}

// New returns a Scheduler backed by store.
func New(store *keystore.Store, bus *events.Bus, counter *stats.Counters) *Scheduler {
	return &Scheduler{store: store, bus: bus, counter: counter}
}

// EnqueueAt schedules (queue, className, args) for promotion at ts (unix
// seconds), building an envelope in the delayed-list canonical shape and
// ensuring ts is a member of the sorted set with score ts. Fires
// afterSchedule.
func (s *Scheduler) EnqueueAt(ctx context.Context, ts int64, queue, className string, args map[string]interface{}) error {
	if queue == "" {
		return &xerrors.ConfigError{Field: "queue", Reason: "must not be empty"}
	}
	if className == "" {
		return &xerrors.ConfigError{Field: "className", Reason: "must not be empty"}
	}

	env, err := job.NewDelayedEnvelope(queue, className, args)
	if err != nil {
		return err
	}
	data, err := env.CanonicalJSON()
	if err != nil {
		return err
	}

	if err := s.store.ListPushTail(ctx, delayedKey(ts), string(data)); err != nil {
		return err
	}
	if err := s.store.SortedSetAdd(ctx, scheduleKey, float64(ts), strconv.FormatInt(ts, 10)); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Emit(events.AfterSchedule, queue, className, args, ts)
	}
	return nil
}

// EnqueueIn schedules (queue, className, args) for promotion seconds from
// now.
func (s *Scheduler) EnqueueIn(ctx context.Context, seconds int64, queue, className string, args map[string]interface{}) error {
	return s.EnqueueAt(ctx, time.Now().Unix()+seconds, queue, className, args)
}

// RemoveDelayed scans every delayed:<ts> list and removes every element
// byte-equal to the canonical envelope JSON for (queue, className, args),
// across all timestamps. Does not immediately prune emptied lists from
// the sorted set; a subsequent NextItemForTimestamp or cleanupTimestamp
// makes that invariant hold again.
func (s *Scheduler) RemoveDelayed(ctx context.Context, queue, className string, args map[string]interface{}) (int, error) {
	target, err := job.NewDelayedEnvelope(queue, className, args)
	if err != nil {
		return 0, err
	}
	targetJSON, err := target.CanonicalJSON()
	if err != nil {
		return 0, err
	}

	members, err := s.store.SortedSetRangeByScore(ctx, scheduleKey, 0, float64(1<<62), 0)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, m := range members {
		ts, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		n, err := s.store.ListRemove(ctx, delayedKey(ts), 0, string(targetJSON))
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// RemoveDelayedJobFromTimestamp removes matching entries only from
// delayed:<ts>, then prunes ts from the sorted set if the list is now
// empty.
func (s *Scheduler) RemoveDelayedJobFromTimestamp(ctx context.Context, ts int64, queue, className string, args map[string]interface{}) (int, error) {
	target, err := job.NewDelayedEnvelope(queue, className, args)
	if err != nil {
		return 0, err
	}
	targetJSON, err := target.CanonicalJSON()
	if err != nil {
		return 0, err
	}

	n, err := s.store.ListRemove(ctx, delayedKey(ts), 0, string(targetJSON))
	if err != nil {
		return 0, err
	}

	if err := s.cleanupTimestamp(ctx, ts); err != nil {
		return int(n), err
	}
	return int(n), nil
}

// NextDelayedTimestamp returns the smallest score in the sorted set that
// is <= at, or ok=false if none qualifies. This is the "heart" guarantee:
// any past-due timestamp is eventually observed, regardless of when the
// scheduler was last running.
func (s *Scheduler) NextDelayedTimestamp(ctx context.Context, at int64) (int64, bool, error) {
	score, ok, err := s.store.SortedSetMinScore(ctx, scheduleKey)
	if err != nil || !ok {
		return 0, false, err
	}
	if int64(score) > at {
		return 0, false, nil
	}
	return int64(score), true, nil
}

// NextItemForTimestamp head-pops delayed:<ts> and prunes ts from the
// sorted set if the list becomes empty.
func (s *Scheduler) NextItemForTimestamp(ctx context.Context, ts int64) (*job.DelayedEnvelope, bool, error) {
	raw, ok, err := s.store.ListPopHead(ctx, delayedKey(ts))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, s.cleanupTimestamp(ctx, ts)
	}

	var env job.DelayedEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, err
	}

	if err := s.cleanupTimestamp(ctx, ts); err != nil {
		return &env, true, err
	}
	return &env, true, nil
}

// DelayedScheduleSize returns the number of distinct timestamps currently
// scheduled.
func (s *Scheduler) DelayedScheduleSize(ctx context.Context) (int64, error) {
	return s.store.SortedSetCard(ctx, scheduleKey)
}

// SizeAtTimestamp returns the number of envelopes waiting at ts.
func (s *Scheduler) SizeAtTimestamp(ctx context.Context, ts int64) (int64, error) {
	return s.store.ListLen(ctx, delayedKey(ts))
}

// cleanupTimestamp prunes ts from the sorted set if delayed:<ts> is now
// empty, keeping the invariant "schedule contains ts iff delayed:<ts> is
// non-empty" true after every removal.
func (s *Scheduler) cleanupTimestamp(ctx context.Context, ts int64) error {
	n, err := s.store.ListLen(ctx, delayedKey(ts))
	if err != nil {
		return err
	}
	if n == 0 {
		return s.store.SortedSetRemove(ctx, scheduleKey, strconv.FormatInt(ts, 10))
	}
	return nil
}

// PromoteReady runs one sweep of the promotion protocol: repeatedly takes
// the next due timestamp, drains every envelope at it into its
// destination primary queue via engine.PushRaw, and moves on to the next
// timestamp, until nothing is due as of `now`. The loop is stateless
// between iterations: every successful step is a single durable Redis
// operation, so a crash mid-sweep loses nothing already promoted and
// leaves the rest for the next sweep.
//
// Failure semantics: if PushRaw fails after NextItemForTimestamp already
// popped the envelope, the envelope is lost; this is a deliberate
// at-most-once choice, and the loss is counted in stat:promotion_loss
// (when the Scheduler has a counter) rather than retried, so a single misbehaving push
// cannot wedge the sweep.
func (s *Scheduler) PromoteReady(ctx context.Context, engine *queue.Engine, now int64) (int, error) {
	moved := 0
	for {
		ts, ok, err := s.NextDelayedTimestamp(ctx, now)
		if err != nil {
			return moved, err
		}
		if !ok {
			return moved, nil
		}

		for {
			env, ok, err := s.NextItemForTimestamp(ctx, ts)
			if err != nil {
				return moved, err
			}
			if !ok {
				break
			}

			data, err := env.CanonicalJSON()
			if err != nil {
				return moved, err
			}
			if err := engine.PushRaw(ctx, env.Queue, string(data)); err != nil {
				if s.counter != nil {
					if _, statErr := s.counter.Incr(ctx, "promotion_loss"); statErr != nil {
						return moved, fmt.Errorf("push failed (%w) and could not record promotion_loss: %v", err, statErr)
					}
				}
				continue
			}
			moved++
		}
	}
}
