// Package stats implements monotone integer counters as `stat:<name>`
// keys backed by KeyStore, in the style of an atomic-counter package
// moved onto Redis because these counters need to be durable,
// cross-process state (stat:processed, stat:failed,
// stat:failed:<workerId>, ...), not in-memory process metrics.
package stats

import (
	"context"
	"strconv"

	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
)

// Counters wraps a KeyStore to expose named monotone counters under the
// "stat:" sub-namespace.
type Counters struct {
	store *keystore.Store
}

// New returns a Counters view over store.
func New(store *keystore.Store) *Counters {
	return &Counters{store: store}
}

func statKey(name string) string {
	return "stat:" + name
}

// Incr increments the named counter by 1 and returns the new value.
func (c *Counters) Incr(ctx context.Context, name string) (int64, error) {
	n, err := c.store.Raw().Incr(ctx, c.store.Key(statKey(name))).Result()
	if err != nil {
		return 0, &xerrors.TransportError{Op: "incr stat", Err: err}
	}
	return n, nil
}

// Decr decrements the named counter by 1 and returns the new value.
func (c *Counters) Decr(ctx context.Context, name string) (int64, error) {
	n, err := c.store.Raw().Decr(ctx, c.store.Key(statKey(name))).Result()
	if err != nil {
		return 0, &xerrors.TransportError{Op: "decr stat", Err: err}
	}
	return n, nil
}

// Get returns the current value of the named counter (0 if unset).
func (c *Counters) Get(ctx context.Context, name string) (int64, error) {
	v, ok, err := c.store.StringGet(ctx, statKey(name))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &xerrors.TransportError{Op: "parse stat", Err: err}
	}
	return n, nil
}

// Clear resets the named counter to zero.
func (c *Counters) Clear(ctx context.Context, name string) error {
	return c.store.StringDel(ctx, statKey(name))
}

// Processed is the global processed-jobs counter name.
const Processed = "processed"

// Failed is the global failed-jobs counter name.
const Failed = "failed"

// ProcessedByWorker returns the per-worker processed counter name. Always
// built from the worker's stable id string (host:pid:queue,queue), never
// an object representation.
func ProcessedByWorker(workerID string) string {
	return "processed:" + workerID
}

// FailedByWorker returns the per-worker failed counter name.
func FailedByWorker(workerID string) string {
	return "failed:" + workerID
}
