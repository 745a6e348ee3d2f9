// Package queue implements the Queue Engine: enqueue/dequeue/
// blocking-dequeue, queue registry, queue enumeration, size queries.
//
// Adapted from an internal/queue/redis.go-style queue: priority-specific
// queue names (queue:high/normal/low selected by a fixed
// BRPopLPush-per-priority loop) become a general "multiple named queues
// in caller-supplied order" mechanism, and ride on internal/keystore
// instead of a raw *redis.Client. The per-priority BRPopLPush loop is
// replaced by a single multi-key BLPOP: Redis's native semantics already
// deliver a leftmost-ready-queue tie-break with no extra logic on top.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/events"
	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/job"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

const queuesKey = "queues"

func queueKey(name string) string {
	return "queue:" + name
}

// Engine is the Queue Engine capability.
type Engine struct {
	store  *keystore.Store
	bus    *events.Bus
	status *status.Tracker
	prefix string
}

// New returns a Queue Engine. status may be nil if no caller ever
// requests trackStatus on Enqueue.
func New(store *keystore.Store, bus *events.Bus, tracker *status.Tracker) *Engine {
	return &Engine{store: store, bus: bus, status: tracker, prefix: store.Prefix()}
}

// Push adds queue to the registry and appends env to the queue list,
// guaranteeing append-at-tail ordering.
func (e *Engine) Push(ctx context.Context, queue string, env *job.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := e.store.SetAdd(ctx, queuesKey, queue); err != nil {
		return err
	}
	return e.store.ListPushTail(ctx, queueKey(queue), string(data))
}

// PushRaw appends pre-serialized envelope JSON as-is, used by the
// delayed-promotion path to preserve the envelope exactly as it was
// stored in the delayed schedule.
func (e *Engine) PushRaw(ctx context.Context, queue string, envelopeJSON string) error {
	if err := e.store.SetAdd(ctx, queuesKey, queue); err != nil {
		return err
	}
	return e.store.ListPushTail(ctx, queueKey(queue), envelopeJSON)
}

// Pop removes and returns the head envelope of queue, non-blocking.
// ok is false if the queue is empty.
func (e *Engine) Pop(ctx context.Context, queue string) (*job.Envelope, bool, error) {
	raw, ok, err := e.store.ListPopHead(ctx, queueKey(queue))
	if err != nil || !ok {
		return nil, false, err
	}
	var env job.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, err
	}
	return &env, true, nil
}

// BlockingPop blocks up to timeout across queues, returning the first
// available envelope and the queue it came from. ok is false on timeout.
func (e *Engine) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (queue string, env *job.Envelope, ok bool, err error) {
	if len(queues) == 0 {
		return "", nil, false, nil
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	gotKey, value, found, err := e.store.BlockingPopHead(ctx, keys, timeout)
	if err != nil || !found {
		return "", nil, false, err
	}
	var parsed job.Envelope
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		return "", nil, false, err
	}
	return gotKey[len("queue:"):], &parsed, true, nil
}

// Size returns the number of envelopes currently in queue.
func (e *Engine) Size(ctx context.Context, queue string) (int64, error) {
	return e.store.ListLen(ctx, queueKey(queue))
}

// Queues returns the set of registered queue names.
func (e *Engine) Queues(ctx context.Context) ([]string, error) {
	return e.store.SetMembers(ctx, queuesKey)
}

// Enqueue builds an envelope for (className, args), fires beforeEnqueue
// (any veto aborts with ok=false and no side effects), pushes it onto
// queue, optionally creates a status record, and fires afterEnqueue.
// id is generated if empty.
func (e *Engine) Enqueue(ctx context.Context, queue, className string, args map[string]interface{}, trackStatus bool, id string) (string, bool, error) {
	if queue == "" {
		return "", false, &xerrors.ConfigError{Field: "queue", Reason: "must not be empty"}
	}
	if className == "" {
		return "", false, &xerrors.ConfigError{Field: "className", Reason: "must not be empty"}
	}
	if id == "" {
		id = job.NewID()
	}

	if e.bus != nil {
		if veto := e.bus.Emit(events.BeforeEnqueue, queue, className, args, id); veto == events.Abort {
			return "", false, nil
		}
	}

	env, err := job.NewEnvelope(className, args, id, e.prefix)
	if err != nil {
		return "", false, err
	}
	if err := e.Push(ctx, queue, env); err != nil {
		return "", false, err
	}

	if trackStatus && e.status != nil {
		if err := e.status.Create(ctx, id, e.prefix); err != nil {
			return "", false, err
		}
	}

	if e.bus != nil {
		e.bus.Emit(events.AfterEnqueue, queue, className, args, id)
	}

	return id, true, nil
}
