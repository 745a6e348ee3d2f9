package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/events"
	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/job"
	"github.com/muaviaUsmani/jobyard/internal/registry"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

// Config configures one Worker instance, adapted from internal/config's
// WorkerConfig fields (Queues, Interval, BlockingMode) renamed onto
// resque-style env var names.
type Config struct {
	Queues     []string
	Interval   time.Duration
	Blocking   bool
	Isolation  IsolationMode
	JobTimeout time.Duration
}

// Worker is the long-running reserve/perform loop.
type Worker struct {
	env    *Environment
	cfg    Config
	id     string
	paused atomic.Bool

	mu           sync.Mutex
	currentJobID string
}

// New builds a Worker. Its id is derived from hostname, PID, and the
// configured queue list.
func New(env *Environment, cfg Config) *Worker {
	return &Worker{env: env, cfg: cfg, id: BuildID(cfg.Queues)}
}

// ID returns this worker's stable identity string.
func (w *Worker) ID() string { return w.id }

// Work runs the reserve/perform loop until ctx is canceled or a
// terminating signal (TERM, INT, QUIT, PIPE) arrives. It registers the
// worker identity, prunes orphaned entries left by a prior unclean exit
// on this host (and keeps pruning periodically for the rest of the
// process's life, since other workers on the same host can die while
// this one keeps running), installs the signal table, and unregisters on
// the way out.
func (w *Worker) Work(ctx context.Context) error {
	host, _ := os.Hostname()
	if _, err := PruneOrphans(ctx, w.env, host); err != nil {
		return err
	}
	if err := register(ctx, w.env, w.id); err != nil {
		return err
	}
	defer unregister(context.Background(), w.env, w.id)

	if w.env.Bus != nil {
		w.env.Bus.Emit(events.BeforeFirstFork, w.id)
	}

	sigCtx, stopSignals := w.installSignals(ctx)
	defer stopSignals()

	stopPruning := w.periodicPrune(sigCtx, host)
	defer stopPruning()

	for {
		if sigCtx.Err() != nil {
			return nil
		}
		if w.paused.Load() {
			select {
			case <-sigCtx.Done():
				return nil
			case <-time.After(w.cfg.Interval):
			}
			continue
		}

		if w.env.Bus != nil {
			w.env.Bus.Emit(events.BeforeReserve, w.id)
		}

		queueName, env, ok, err := w.reserve(sigCtx)
		if err != nil {
			if sigCtx.Err() != nil {
				return nil
			}
			select {
			case <-sigCtx.Done():
				return nil
			case <-time.After(w.cfg.Interval):
			}
			continue
		}
		if !ok {
			continue
		}

		if w.env.Bus != nil {
			w.env.Bus.Emit(events.AfterReserve, w.id, queueName, env)
			if veto := w.env.Bus.Emit(events.BeforeFork, w.id, queueName, env); veto == events.Abort {
				continue
			}
		}

		// The job runs under a context detached from ctx's cancellation and
		// from stop signals, so a stop request lets the in-flight job finish.
		jobCtx := context.WithoutCancel(ctx)
		var jobCancel context.CancelFunc
		if w.cfg.JobTimeout > 0 {
			jobCtx, jobCancel = context.WithTimeout(jobCtx, w.cfg.JobTimeout)
		}
		w.runIsolated(jobCtx, queueName, env)
		if jobCancel != nil {
			jobCancel()
		}
	}
}

// reserve pops the next available envelope across the worker's queues,
// blocking up to Interval if Blocking is set, or polling once per queue
// otherwise.
func (w *Worker) reserve(ctx context.Context) (string, *job.Envelope, bool, error) {
	if w.cfg.Blocking {
		return w.env.Queue.BlockingPop(ctx, w.cfg.Queues, w.cfg.Interval)
	}
	for _, q := range w.cfg.Queues {
		env, ok, err := w.env.Queue.Pop(ctx, q)
		if err != nil {
			return "", nil, false, err
		}
		if ok {
			return q, env, true, nil
		}
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.Interval):
	}
	return "", nil, false, nil
}

// runIsolated performs env in the configured isolation mode. In
// Subprocess mode it records the child's PID (so USR1 can kill it and a
// crash is attributable) and, on a non-zero exit that the child never
// itself resolved to a terminal status, files a DirtyExit failure. In
// InProcess mode it simply calls performJob in the worker's own
// goroutine, a panic-recovery-in-place pattern.
func (w *Worker) runIsolated(ctx context.Context, queueName string, env *job.Envelope) {
	if w.cfg.Isolation == Subprocess {
		w.mu.Lock()
		w.currentJobID = env.ID
		w.mu.Unlock()
		defer func() {
			w.mu.Lock()
			w.currentJobID = ""
			w.mu.Unlock()
		}()

		pid, exitCode, err := spawnChild(ctx, childRequest{WorkerID: w.id, Queue: queueName, Envelope: *env})
		if err != nil {
			_ = failJob(ctx, w.env, w.id, queueName, env, &xerrors.TransportError{Op: "spawn child", Err: err})
			return
		}
		_ = recordChildPID(ctx, w.env, env.ID, pid)
		defer clearChildPID(ctx, w.env, env.ID)

		if exitCode != 0 {
			state, ok, serr := w.env.Status.Get(ctx, env.ID)
			if serr == nil && (!ok || (state != status.Complete && state != status.Failed)) {
				_ = failJob(ctx, w.env, w.id, queueName, env, &xerrors.DirtyExit{ExitCode: exitCode})
			}
		}
		return
	}

	_ = performJob(ctx, w.env, w.id, queueName, env)
}

// installSignals wires the resque-style signal table onto a derived
// context: TERM, INT, QUIT, and PIPE all request a graceful stop (finish
// the in-flight job, then return from Work); USR2 pauses reservation;
// CONT resumes it; USR1 kills the current subprocess child, turning that
// job into a DirtyExit while the worker itself keeps running.
func (w *Worker) installSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 8)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigChan:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE:
					cancel()
				case syscall.SIGUSR2:
					w.paused.Store(true)
				case syscall.SIGCONT:
					w.paused.Store(false)
				case syscall.SIGUSR1:
					if pid, ok := w.currentChildPID(); ok {
						_ = killChildProcess(pid)
					}
				}
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(sigChan)
		cancel()
	}
}

// periodicPrune runs PruneOrphans on a ticker for the life of ctx, so a
// long-running worker keeps recovering work left behind by siblings on
// the same host that die after this worker's own startup prune already
// ran. Errors are swallowed; a failed sweep just waits for the next tick
// rather than aborting the reserve/perform loop.
func (w *Worker) periodicPrune(ctx context.Context, host string) func() {
	ticker := time.NewTicker(w.cfg.Interval * 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = PruneOrphans(ctx, w.env, host)
			}
		}
	}()

	return func() {
		ticker.Stop()
		<-done
	}
}

// currentChildPID looks up the OS PID of the subprocess currently running
// this worker's in-flight job, if any, via its job:<id>:pid record.
func (w *Worker) currentChildPID() (int, bool) {
	w.mu.Lock()
	jobID := w.currentJobID
	w.mu.Unlock()
	if jobID == "" {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, ok, err := w.env.Store.StringGet(ctx, pidRecordKey(jobID))
	if err != nil || !ok {
		return 0, false
	}
	pid, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// decodeArgs turns an envelope's wrapped args blob back into the map
// shape registry.Handler.SetArgs expects. A JSON null (the envelope's
// representation of "no args") decodes to a nil map.
func decodeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// performJob is the perform(job) operation, shared by the in-process path
// and the re-exec'd child (isolation.go's RunChild). It resolves the
// handler, runs its optional setUp/tearDown around Perform, and routes
// any failure (resolution, setUp, perform, or a recovered panic) through
// failJob. A beforePerform veto skips the job entirely without marking it
// FAILED.
func performJob(ctx context.Context, env *Environment, workerID, queueName string, envelope *job.Envelope) (err error) {
	payload, _ := json.Marshal(envelope)
	if serr := setWorkingOn(ctx, env, workerID, queueName, envelope.ID, string(payload)); serr != nil {
		return serr
	}
	defer clearWorkingOn(context.Background(), env, workerID)

	if env.Status != nil {
		if serr := env.Status.Update(ctx, envelope.ID, status.Running, nil); serr != nil {
			return serr
		}
	}

	if env.Bus != nil {
		env.Bus.Emit(events.AfterFork, workerID, queueName, envelope)
	}

	args, derr := decodeArgs(envelope.Args[0])
	if derr != nil {
		return failJob(ctx, env, workerID, queueName, envelope, &xerrors.HandlerError{Stage: "decodeArgs", Err: derr})
	}

	handler, herr := env.Factory.Create(envelope.Class, args, queueName)
	if herr != nil {
		return failJob(ctx, env, workerID, queueName, envelope, herr)
	}

	if env.Bus != nil {
		if veto := env.Bus.Emit(events.BeforePerform, workerID, queueName, envelope); veto == events.Abort {
			return nil
		}
	}

	if su, ok := handler.(registry.SetUpper); ok {
		if serr := su.SetUp(ctx); serr != nil {
			return failJob(ctx, env, workerID, queueName, envelope, &xerrors.HandlerError{Stage: "setUp", Err: serr})
		}
	}

	perr := func() (perr error) {
		defer func() {
			if rec := xerrors.RecoverPanic(); rec != nil {
				perr = rec
			}
		}()
		return handler.Perform(ctx)
	}()

	if td, ok := handler.(registry.TearDowner); ok {
		_ = td.TearDown(ctx)
	}

	if perr != nil {
		return failJob(ctx, env, workerID, queueName, envelope, &xerrors.HandlerError{Stage: "perform", Err: perr})
	}

	if env.Bus != nil {
		env.Bus.Emit(events.AfterPerform, workerID, queueName, envelope)
	}
	if env.Status != nil {
		if serr := env.Status.Update(ctx, envelope.ID, status.Complete, nil); serr != nil {
			return serr
		}
	}
	if env.Stats != nil {
		if _, serr := env.Stats.Incr(ctx, stats.Processed); serr != nil {
			return serr
		}
		if _, serr := env.Stats.Incr(ctx, stats.ProcessedByWorker(workerID)); serr != nil {
			return serr
		}
	}
	return nil
}

// failJob is the fail(job, error) operation: fires onFailure, marks the
// status record FAILED, records a Failure-sink entry, and increments the
// failed counters.
func failJob(ctx context.Context, env *Environment, workerID, queueName string, envelope *job.Envelope, jobErr error) error {
	if env.Bus != nil {
		env.Bus.Emit(events.OnFailure, workerID, queueName, envelope, jobErr)
	}
	if env.Status != nil {
		if serr := env.Status.Update(ctx, envelope.ID, status.Failed, nil); serr != nil {
			return serr
		}
	}

	payload, _ := json.Marshal(envelope)
	if env.Failure != nil {
		if serr := env.Failure.Record(ctx, payload, errorKind(jobErr), jobErr.Error(), backtraceOf(jobErr), workerID, queueName); serr != nil {
			return serr
		}
	}
	if env.Stats != nil {
		if _, serr := env.Stats.Incr(ctx, stats.Failed); serr != nil {
			return serr
		}
		if _, serr := env.Stats.Incr(ctx, stats.FailedByWorker(workerID)); serr != nil {
			return serr
		}
	}
	_ = clearChildPID(ctx, env, envelope.ID)
	return nil
}

// errorKind labels jobErr with the typed-error-kind name recorded in a
// Failure Sink entry, falling back to "error" for anything else.
func errorKind(jobErr error) string {
	var jre *xerrors.JobResolutionError
	var he *xerrors.HandlerError
	var de *xerrors.DirtyExit
	var pe *xerrors.PanicError
	switch {
	case errors.As(jobErr, &jre):
		return "JobResolutionError"
	case errors.As(jobErr, &de):
		return "DirtyExit"
	case errors.As(jobErr, &pe):
		return "PanicError"
	case errors.As(jobErr, &he):
		return "HandlerError:" + he.Stage
	default:
		return "error"
	}
}

func backtraceOf(jobErr error) string {
	var pe *xerrors.PanicError
	if errors.As(jobErr, &pe) {
		return pe.Stacktrace
	}
	return ""
}
