// Package cron implements recurring enqueue: named cron schedules that
// periodically enqueue a job onto the Queue Engine. This is a feature
// the original php-resque ecosystem ships as a companion gem
// (resque-scheduler) rather than the core library; this repo adds it
// back as a supplementary feature that does not change the core delayed
// scheduler's semantics.
//
// Generalized off priority (there is no priority concept here; a
// schedule names a queue directly) and rewired onto internal/queue.Engine
// and internal/lock instead of a raw *redis.Client and a scheduler-local
// lock implementation.
package cron

import "time"

// Schedule describes one recurring enqueue: a standard 5-field cron
// expression, the queue and class to enqueue, and the args to pass.
type Schedule struct {
	// ID uniquely identifies the schedule; also its Redis state key.
	ID string

	// Cron is a standard 5-field expression (minute hour dom month dow).
	Cron string

	// Queue is the queue the job is enqueued onto when due.
	Queue string

	// Class is the job class name enqueued when due.
	Class string

	// Args are the job arguments, re-marshaled fresh on every firing.
	Args map[string]interface{}

	// Timezone the cron expression is evaluated in. Empty means UTC.
	Timezone string

	// Enabled allows disabling a schedule without removing it.
	Enabled bool

	// Description is a free-form note for logging/monitoring.
	Description string
}

// State is a schedule's persisted runtime state.
type State struct {
	ID          string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	LastError   string
	LastSuccess time.Time
}
