package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

func TestNew(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("expected no error creating client, got %v", err)
	}
	if c == nil {
		t.Fatal("expected client to be created, got nil")
	}
	defer c.Close()
}

func TestNew_ConnectionFailure(t *testing.T) {
	c, err := New("redis://invalid-host:9999")

	if err == nil {
		t.Fatal("expected error for invalid Redis DSN, got nil")
	}
	if c != nil {
		t.Error("expected nil client on connection failure")
	}
}

func TestSubmit_ReturnsNonEmptyID(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobID, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"items": []interface{}{1, 2, 3}}, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jobID == "" {
		t.Error("expected non-empty job ID")
	}

	// UUID should be 36 characters (including hyphens)
	if len(jobID) != 36 {
		t.Errorf("expected UUID length 36, got %d", len(jobID))
	}
}

func TestSubmit_PushesOntoQueue(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Submit(ctx, "default", "send_email", map[string]interface{}{"to": "a@example.com"}, false); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	length, err := s.Llen("resque:queue:default")
	if err != nil {
		t.Fatalf("failed to inspect queue list: %v", err)
	}
	if length != 1 {
		t.Errorf("expected 1 job on default queue, got %d", length)
	}
}

func TestSubmit_TracksStatusWhenRequested(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobID, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{}, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	state, ok, err := c.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("expected no error checking status, got %v", err)
	}
	if !ok {
		t.Fatal("expected status to be tracked")
	}
	if state != status.Waiting {
		t.Errorf("expected state %s, got %s", status.Waiting, state)
	}
}

func TestSubmit_UntrackedStatusNotFound(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobID, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{}, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, ok, err := c.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("expected no error checking status, got %v", err)
	}
	if ok {
		t.Error("expected untracked job to report no status")
	}
}

func TestSubmitIn_SchedulesDelayedJob(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.SubmitIn(ctx, 30, "default", "send_email", map[string]interface{}{"to": "later@example.com"}); err != nil {
		t.Fatalf("expected no error scheduling delayed job, got %v", err)
	}

	count, err := s.ZCard("resque:delayed_queue_schedule")
	if err != nil {
		t.Fatalf("failed to inspect delayed schedule: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 scheduled timestamp, got %d", count)
	}

	// The job must not be ready for reservation yet.
	length, err := s.Llen("resque:queue:default")
	if err == nil && length != 0 {
		t.Errorf("expected delayed job to not yet appear on the ready queue, got length %d", length)
	}
}

func TestSubmitAt_SchedulesAtTimestamp(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	ts := time.Now().Add(5 * time.Second).Unix()
	if err := c.SubmitAt(ctx, ts, "default", "process_data", map[string]interface{}{}); err != nil {
		t.Fatalf("expected no error scheduling at timestamp, got %v", err)
	}

	count, err := s.ZCard("resque:delayed_queue_schedule")
	if err != nil {
		t.Fatalf("failed to inspect delayed schedule: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 scheduled timestamp, got %d", count)
	}
}

func TestGetResult_NoneStoredYet(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	res, err := c.GetResult(context.Background(), "non-existent-id")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
}

func TestSubmitAndWait_TimesOutWithoutAWorker(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	_, err = c.SubmitAndWait(ctx, "default", "count_items", map[string]interface{}{}, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error with no worker consuming the job, got nil")
	}
}

func TestSubmit_ThreadSafety(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	jobCount := 100
	errs := make(chan error, jobCount)

	for i := 0; i < jobCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"index": index}, false)
			if err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("error submitting job: %v", err)
	}

	length, err := s.Llen("resque:queue:default")
	if err != nil {
		t.Fatalf("failed to inspect queue list: %v", err)
	}
	if length != jobCount {
		t.Errorf("expected %d jobs on default queue, got %d", jobCount, length)
	}
}
