// Package worker implements the Worker component: the long-running
// process that reserves jobs, isolates execution, manages signals,
// heartbeats, and recovers orphaned work.
//
// Heavily adapted from an internal/worker/pool.go-style goroutine-based
// main loop (exponential Redis-error backoff, panic recovery) and an
// executor.go-style perform/fail routing, generalized onto an explicit
// Context-as-value pattern in place of a package-level service locator
// (logger.Default(), metrics.Default()).
package worker

import (
	"github.com/muaviaUsmani/jobyard/internal/events"
	"github.com/muaviaUsmani/jobyard/internal/failure"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/registry"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

// Environment bundles every capability the Worker needs:
// the KeyStore handle, Event bus, Failure sink, Job Factory, status
// tracker, stat counters, queue engine, and key prefix. Constructed once
// at process startup and threaded into the Worker explicitly.
type Environment struct {
	Store   *keystore.Store
	Bus     *events.Bus
	Failure failure.Sink
	Factory registry.Factory
	Status  *status.Tracker
	Stats   *stats.Counters
	Queue   *queue.Engine
	Prefix  string
}
