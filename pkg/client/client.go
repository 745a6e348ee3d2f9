// Package client provides a simple producer SDK for submitting and
// inspecting jobyard jobs from outside the worker process. The surface
// (Submit/SubmitAt/SubmitIn/Status/GetResult/SubmitAndWait) follows an existing client
// package shape but is rewired onto internal/queue, internal/delayed,
// internal/status, and internal/result instead of a queue.RedisQueue/
// job.Job pair.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/delayed"
	"github.com/muaviaUsmani/jobyard/internal/events"
	"github.com/muaviaUsmani/jobyard/internal/job"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/result"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

// Client is a job producer/inspector connected to one KeyStore.
type Client struct {
	store   *keystore.Store
	queue   *queue.Engine
	delayed *delayed.Scheduler
	status  *status.Tracker
	result  result.Backend
}

// Options configures optional TTLs and the key prefix for a new Client.
type Options struct {
	Prefix           string
	StatusTTL        time.Duration
	ResultSuccessTTL time.Duration
	ResultFailureTTL time.Duration
}

func defaultOptions() Options {
	return Options{
		Prefix:           "resque:",
		StatusTTL:        24 * time.Hour,
		ResultSuccessTTL: 1 * time.Hour,
		ResultFailureTTL: 24 * time.Hour,
	}
}

// New connects a Client to dsn (per internal/dsn's grammar) with default
// TTLs and key prefix.
func New(dsn string) (*Client, error) {
	return NewWithOptions(dsn, nil)
}

// NewWithOptions connects a Client to dsn with caller-supplied TTLs/prefix.
func NewWithOptions(dsn string, opts *Options) (*Client, error) {
	o := defaultOptions()
	if opts != nil {
		o = *opts
	}

	store, err := keystore.New(dsn, o.Prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to key store: %w", err)
	}

	bus := events.New()
	tracker := status.New(store, o.StatusTTL)
	counters := stats.New(store)

	return &Client{
		store:   store,
		queue:   queue.New(store, bus, tracker),
		delayed: delayed.New(store, bus, counters),
		status:  tracker,
		result:  result.NewRedisBackend(store, o.ResultSuccessTTL, o.ResultFailureTTL),
	}, nil
}

// Submit enqueues a job onto queue for immediate reservation and returns
// its id. trackStatus requests that the job's lifecycle be recorded for
// later Status lookups.
func (c *Client) Submit(ctx context.Context, queueName, className string, args map[string]interface{}, trackStatus bool) (string, error) {
	id, ok, err := c.queue.Enqueue(ctx, queueName, className, args, trackStatus, "")
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("enqueue of %s/%s was vetoed", queueName, className)
	}
	return id, nil
}

// SubmitAt schedules a job to become ready for reservation at the given
// Unix timestamp.
func (c *Client) SubmitAt(ctx context.Context, ts int64, queueName, className string, args map[string]interface{}) error {
	return c.delayed.EnqueueAt(ctx, ts, queueName, className, args)
}

// SubmitIn schedules a job to become ready for reservation after the
// given number of seconds.
func (c *Client) SubmitIn(ctx context.Context, seconds int64, queueName, className string, args map[string]interface{}) error {
	return c.delayed.EnqueueIn(ctx, seconds, queueName, className, args)
}

// Status returns a submitted job's current lifecycle state. ok is false
// if the job was never tracked or its status record has expired.
func (c *Client) Status(ctx context.Context, jobID string) (status.State, bool, error) {
	return c.status.Get(ctx, jobID)
}

// GetResult retrieves a completed job's stored result, or (nil, nil) if
// none is stored yet.
func (c *Client) GetResult(ctx context.Context, jobID string) (*job.Result, error) {
	return c.result.GetResult(ctx, jobID)
}

// SubmitAndWait submits a job for immediate reservation and blocks until
// its result is available or timeout elapses, an RPC-style convenience
// for callers that want to wait synchronously on a job's outcome. The
// bundled worker does not store results, so against it this call ends
// with the timeout error.
func (c *Client) SubmitAndWait(ctx context.Context, queueName, className string, args map[string]interface{}, timeout time.Duration) (*job.Result, error) {
	jobID, err := c.Submit(ctx, queueName, className, args, true)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	res, err := c.result.WaitForResult(ctx, jobID, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for result: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("job %s did not complete within %v", jobID, timeout)
	}
	return res, nil
}

// Close releases the underlying KeyStore connection.
func (c *Client) Close() error {
	return c.store.Close()
}
