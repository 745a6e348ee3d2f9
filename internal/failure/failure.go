// Package failure implements the failure sink: a pluggable writer
// recording failed-job envelopes, with a default Redis-backed `failed`
// list sink.
//
// Structurally similar to a Backend interface shape (store/get/delete),
// generalized here to a single `record` entry point, plus a default sink
// that pushes one JSON record per failure onto the `failed` list,
// mirroring a dead-letter-queue LPush pattern.
package failure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/keystore"
)

// Record is one JSON envelope written per failure: original payload,
// error kind, error message, backtrace when available, worker id, queue,
// failed-at timestamp.
type Record struct {
	Payload    json.RawMessage `json:"payload"`
	ErrorKind  string          `json:"error_kind"`
	Error      string          `json:"error"`
	Backtrace  string          `json:"backtrace,omitempty"`
	WorkerID   string          `json:"worker_id"`
	Queue      string          `json:"queue"`
	FailedAt   time.Time       `json:"failed_at"`
}

// Sink is the pluggable failure backend. A single Sink value records every
// failure it is handed; it is not re-created per failure.
type Sink interface {
	Record(ctx context.Context, payload json.RawMessage, errKind, errMsg, backtrace, workerID, queue string) error
}

// RedisSink is the default backend: appends one Record per failure onto
// the `failed` list key.
type RedisSink struct {
	store *keystore.Store
}

// NewRedisSink returns the default Redis-backed failure sink.
func NewRedisSink(store *keystore.Store) *RedisSink {
	return &RedisSink{store: store}
}

const failedKey = "failed"

// Record appends a failure record to the `failed` list.
func (s *RedisSink) Record(ctx context.Context, payload json.RawMessage, errKind, errMsg, backtrace, workerID, queue string) error {
	rec := Record{
		Payload:   payload,
		ErrorKind: errKind,
		Error:     errMsg,
		Backtrace: backtrace,
		WorkerID:  workerID,
		Queue:     queue,
		FailedAt:  time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.store.ListPushTail(ctx, failedKey, string(data))
}

// Len returns the number of recorded failures, primarily useful for
// testing and monitoring.
func (s *RedisSink) Len(ctx context.Context) (int64, error) {
	return s.store.ListLen(ctx, failedKey)
}
