// Package status implements the per-job status record: state,
// timestamps, optional result, with monotone transitions and a TTL once
// terminal.
//
// Adapted from a Job.UpdateStatus-style idiom (mutate state, stamp
// updated-at) moved onto its own Redis hash (job:<id>:status) since
// status tracking needs to be an independent, cross-process component
// rather than a struct field mutation.
package status

import (
	"context"
	"strconv"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/keystore"
)

// State is a job's lifecycle state.
type State string

const (
	Waiting  State = "WAITING"
	Running  State = "RUNNING"
	Complete State = "COMPLETE"
	Failed   State = "FAILED"
)

// rank defines the partial order WAITING < RUNNING < {COMPLETE, FAILED}.
// COMPLETE and FAILED are incomparable terminal states but both outrank
// RUNNING, so either always wins against a late RUNNING write.
func rank(s State) int {
	switch s {
	case Waiting:
		return 0
	case Running:
		return 1
	case Complete, Failed:
		return 2
	default:
		return -1
	}
}

func isTerminal(s State) bool {
	return s == Complete || s == Failed
}

// DefaultTTL is how long a terminal status record survives before it is
// eligible for expiry.
const DefaultTTL = 24 * time.Hour

// Tracker is the status tracker capability.
type Tracker struct {
	store *keystore.Store
	ttl   time.Duration
}

// New returns a Tracker. ttl <= 0 uses DefaultTTL.
func New(store *keystore.Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: store, ttl: ttl}
}

func statusKey(id string) string {
	return "job:" + id + ":status"
}

// Create initializes the record to WAITING for a freshly enqueued job.
func (t *Tracker) Create(ctx context.Context, id, prefix string) error {
	now := time.Now()
	return t.store.HashSet(ctx, statusKey(id), map[string]string{
		"state":      string(Waiting),
		"prefix":     prefix,
		"started_at": formatTime(now),
		"updated_at": formatTime(now),
	})
}

// Update sets state and, when provided, a result blob. Out-of-order
// updates from late writers (a lower-ranked state arriving after a
// higher-ranked one) are silently ignored, preserving monotonicity.
func (t *Tracker) Update(ctx context.Context, id string, state State, result *string) error {
	current, ok, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if ok && rank(state) < rank(current) {
		return nil
	}

	fields := map[string]string{
		"state":      string(state),
		"updated_at": formatTime(time.Now()),
	}
	if result != nil {
		fields["result"] = *result
	}
	if err := t.store.HashSet(ctx, statusKey(id), fields); err != nil {
		return err
	}

	if isTerminal(state) {
		if err := t.store.Expire(ctx, statusKey(id), t.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current state, or ok=false if no record exists.
func (t *Tracker) Get(ctx context.Context, id string) (State, bool, error) {
	fields, err := t.store.HashGetAll(ctx, statusKey(id))
	if err != nil {
		return "", false, err
	}
	state, ok := fields["state"]
	if !ok {
		return "", false, nil
	}
	return State(state), true, nil
}

// Result returns the stored result blob, if any.
func (t *Tracker) Result(ctx context.Context, id string) (string, bool, error) {
	fields, err := t.store.HashGetAll(ctx, statusKey(id))
	if err != nil {
		return "", false, err
	}
	result, ok := fields["result"]
	return result, ok, nil
}

// IsTracking reports whether a status record exists for id.
func (t *Tracker) IsTracking(ctx context.Context, id string) (bool, error) {
	fields, err := t.store.HashGetAll(ctx, statusKey(id))
	if err != nil {
		return false, err
	}
	return len(fields) > 0, nil
}

func formatTime(tm time.Time) string {
	return strconv.FormatInt(tm.UnixNano(), 10)
}
