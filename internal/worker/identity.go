package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/job"
)

const workersKey = "workers"

func workingOnKey(id string) string   { return "worker:" + id }
func startedAtKey(id string) string   { return "worker:" + id + ":started" }
func pidRecordKey(jobID string) string { return "job:" + jobID + ":pid" }

// BuildID returns a stable worker id string in place of an object
// representation: host, PID, and the caller's queue list, comma joined
// and in the order given.
func BuildID(queues []string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), strings.Join(queues, ","))
}

// register adds id to the workers set and stamps its start time.
func register(ctx context.Context, env *Environment, id string) error {
	if err := env.Store.SetAdd(ctx, workersKey, id); err != nil {
		return err
	}
	return env.Store.StringSet(ctx, startedAtKey(id), strconv.FormatInt(time.Now().Unix(), 10), 0)
}

// unregister removes id and its heartbeat/working-on records.
func unregister(ctx context.Context, env *Environment, id string) error {
	if err := env.Store.SetRemove(ctx, workersKey, id); err != nil {
		return err
	}
	if err := env.Store.StringDel(ctx, startedAtKey(id)); err != nil {
		return err
	}
	return env.Store.StringDel(ctx, workingOnKey(id))
}

// setWorkingOn records the job currently reserved by id, for introspection
// and for orphan recovery after an unclean shutdown.
func setWorkingOn(ctx context.Context, env *Environment, id, queue, jobID, payload string) error {
	return env.Store.HashSet(ctx, workingOnKey(id), map[string]string{
		"queue":      queue,
		"job_id":     jobID,
		"payload":    payload,
		"started_at": strconv.FormatInt(time.Now().Unix(), 10),
	})
}

func clearWorkingOn(ctx context.Context, env *Environment, id string) error {
	return env.Store.StringDel(ctx, workingOnKey(id))
}

func recordChildPID(ctx context.Context, env *Environment, jobID string, pid int) error {
	return env.Store.StringSet(ctx, pidRecordKey(jobID), strconv.Itoa(pid), time.Hour)
}

func clearChildPID(ctx context.Context, env *Environment, jobID string) error {
	return env.Store.StringDel(ctx, pidRecordKey(jobID))
}

// pidFromID extracts the PID segment of a worker id built by BuildID.
func pidFromID(id string) (int, bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a live process on this host. Only
// meaningful for worker ids whose host segment matches the local host;
// callers are expected to have already filtered for that.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// PruneOrphans scans the workers set and removes any entry whose PID is no
// longer alive on this host, leaving entries belonging to other hosts
// untouched (their liveness cannot be checked from here). Before an orphan
// is unregistered, its "working on" record, if any, is routed to the
// Failure sink as a DirtyExit, since the worker that owned it never had
// the chance to fail it itself. Called on startup and periodically by
// Worker.Work, so a Worker recovers work left behind by any instance of
// itself that died uncleanly, not just the one it replaces at boot.
func PruneOrphans(ctx context.Context, env *Environment, localHost string) (int, error) {
	ids, err := env.Store.SetMembers(ctx, workersKey)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		host := strings.SplitN(id, ":", 2)[0]
		if host != localHost {
			continue
		}
		pid, ok := pidFromID(id)
		if !ok || processAlive(pid) {
			continue
		}
		if err := failOrphanedJob(ctx, env, id); err != nil {
			return pruned, err
		}
		if err := unregister(ctx, env, id); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// failOrphanedJob reads id's working-on record and, if one is present,
// routes it through fail(job, error) with a DirtyExit before the record is
// deleted, so an orphaned job lands in the Failure sink instead of being
// silently dropped. A worker with no working-on record (idle when it died)
// is a no-op.
func failOrphanedJob(ctx context.Context, env *Environment, id string) error {
	fields, err := env.Store.HashGetAll(ctx, workingOnKey(id))
	if err != nil {
		return err
	}
	payload, ok := fields["payload"]
	if !ok || payload == "" {
		return nil
	}

	var envelope job.Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return err
	}

	return failJob(ctx, env, id, fields["queue"], &envelope, &xerrors.DirtyExit{ExitCode: -1})
}
