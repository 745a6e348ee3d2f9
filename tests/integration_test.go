package tests

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/jobyard/internal/events"
	"github.com/muaviaUsmani/jobyard/internal/failure"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/registry"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
	"github.com/muaviaUsmani/jobyard/internal/worker"
	"github.com/muaviaUsmani/jobyard/pkg/client"
)

// countItemsHandler is a minimal local stand-in for
// internal/worker.CountItemsHandler: it accepts any args and succeeds.
type countItemsHandler struct {
	args map[string]interface{}
}

func (h *countItemsHandler) SetArgs(args map[string]interface{}) { h.args = args }
func (h *countItemsHandler) SetQueue(string)                     {}
func (h *countItemsHandler) Perform(context.Context) error       { return nil }

type failingHandler struct{ args map[string]interface{} }

func (h *failingHandler) SetArgs(args map[string]interface{}) { h.args = args }
func (h *failingHandler) SetQueue(string)                     {}
func (h *failingHandler) Perform(context.Context) error {
	return &unknownPayloadError{}
}

type unknownPayloadError struct{}

func (e *unknownPayloadError) Error() string { return "unexpected payload shape" }

func newTestWorker(t *testing.T, store *keystore.Store, queues []string, factory *registry.MapFactory) *worker.Worker {
	t.Helper()
	bus := events.New()
	tracker := status.New(store, time.Minute)
	env := &worker.Environment{
		Store:   store,
		Bus:     bus,
		Failure: failure.NewRedisSink(store),
		Factory: factory,
		Status:  tracker,
		Stats:   stats.New(store),
		Queue:   queue.New(store, bus, tracker),
		Prefix:  store.Prefix(),
	}
	return worker.New(env, worker.Config{
		Queues:    queues,
		Interval:  10 * time.Millisecond,
		Blocking:  false,
		Isolation: worker.InProcess,
	})
}

func waitForTerminal(t *testing.T, c *client.Client, jobID string, timeout time.Duration) status.State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, ok, err := c.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("failed to get status for %s: %v", jobID, err)
		}
		if ok && (state == status.Complete || state == status.Failed) {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %v", jobID, timeout)
	return ""
}

func TestFullWorkflow_EndToEnd(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := client.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	jobID1, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"items": []interface{}{"item1", "item2", "item3"}}, true)
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	jobID2, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"to": "test@example.com"}, true)
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	jobID3, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{}, true)
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	store, err := keystore.New("redis://"+s.Addr(), "resque:", nil)
	if err != nil {
		t.Fatalf("failed to connect worker key store: %v", err)
	}
	defer store.Close()

	factory := registry.NewMapFactory()
	factory.Register("count_items", func() registry.Handler { return &countItemsHandler{} })

	w := newTestWorker(t, store, []string{"default"}, factory)
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Work(workCtx) }()

	for _, id := range []string{jobID1, jobID2, jobID3} {
		state := waitForTerminal(t, c, id, 2*time.Second)
		if state != status.Complete {
			t.Errorf("job %s status = %s, want %s", id, state, status.Complete)
		}
	}
}

func TestFullWorkflow_SeveralJobsOnDefaultQueueComplete(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := client.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	var jobIDs []string
	for i := 0; i < 3; i++ {
		id, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"items": []interface{}{"a", "b", "c"}}, true)
		if err != nil {
			t.Fatalf("failed to submit job: %v", err)
		}
		jobIDs = append(jobIDs, id)
	}

	store, err := keystore.New("redis://"+s.Addr(), "resque:", nil)
	if err != nil {
		t.Fatalf("failed to connect worker key store: %v", err)
	}
	defer store.Close()

	factory := registry.NewMapFactory()
	factory.Register("count_items", func() registry.Handler { return &countItemsHandler{} })

	w := newTestWorker(t, store, []string{"default"}, factory)
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Work(workCtx) }()

	for _, id := range jobIDs {
		if state := waitForTerminal(t, c, id, 2*time.Second); state != status.Complete {
			t.Errorf("job %s status = %s, want %s", id, state, status.Complete)
		}
	}
}

func TestFullWorkflow_UnknownClassFails(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := client.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobID, err := c.Submit(ctx, "default", "unregistered_class", map[string]interface{}{}, true)
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	store, err := keystore.New("redis://"+s.Addr(), "resque:", nil)
	if err != nil {
		t.Fatalf("failed to connect worker key store: %v", err)
	}
	defer store.Close()

	// No handlers registered: resolution must fail for any class.
	factory := registry.NewMapFactory()
	w := newTestWorker(t, store, []string{"default"}, factory)
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Work(workCtx) }()

	if state := waitForTerminal(t, c, jobID, 2*time.Second); state != status.Failed {
		t.Errorf("job %s status = %s, want %s", jobID, state, status.Failed)
	}
}

func TestFullWorkflow_HandlerFailure(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := client.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobID, err := c.Submit(ctx, "default", "bad_payload", map[string]interface{}{}, true)
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	store, err := keystore.New("redis://"+s.Addr(), "resque:", nil)
	if err != nil {
		t.Fatalf("failed to connect worker key store: %v", err)
	}
	defer store.Close()

	factory := registry.NewMapFactory()
	factory.Register("bad_payload", func() registry.Handler { return &failingHandler{} })

	w := newTestWorker(t, store, []string{"default"}, factory)
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Work(workCtx) }()

	if state := waitForTerminal(t, c, jobID, 2*time.Second); state != status.Failed {
		t.Errorf("job %s status = %s, want %s", jobID, state, status.Failed)
	}
}

func TestFullWorkflow_ConcurrentSubmission(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := client.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	jobCount := 20
	jobIDs := make([]string, jobCount)
	errs := make(chan error, jobCount)

	for i := 0; i < jobCount; i++ {
		go func(index int) {
			id, err := c.Submit(ctx, "default", "count_items", map[string]interface{}{"items": []interface{}{"a", "b", "c"}}, true)
			jobIDs[index] = id
			errs <- err
		}(i)
	}
	for i := 0; i < jobCount; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("failed to submit job: %v", err)
		}
	}

	store, err := keystore.New("redis://"+s.Addr(), "resque:", nil)
	if err != nil {
		t.Fatalf("failed to connect worker key store: %v", err)
	}
	defer store.Close()

	factory := registry.NewMapFactory()
	factory.Register("count_items", func() registry.Handler { return &countItemsHandler{} })

	w := newTestWorker(t, store, []string{"default"}, factory)
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Work(workCtx) }()

	completed := 0
	for _, id := range jobIDs {
		if state := waitForTerminal(t, c, id, 5*time.Second); state == status.Complete {
			completed++
		}
	}

	if completed != jobCount {
		t.Errorf("expected %d jobs completed, got %d", jobCount, completed)
	}
}
