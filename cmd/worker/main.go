// Package main provides the jobyard worker service for processing background jobs.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/config"
	"github.com/muaviaUsmani/jobyard/internal/events"
	"github.com/muaviaUsmani/jobyard/internal/failure"
	"github.com/muaviaUsmani/jobyard/internal/job"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/logger"
	"github.com/muaviaUsmani/jobyard/internal/metrics"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/registry"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
	"github.com/muaviaUsmani/jobyard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// A re-exec'd child checks this before any normal startup: it reads one
	// job off stdin, performs it, and exits, per internal/worker/isolation.go.
	if len(os.Args) > 1 && os.Args[1] == worker.PerformJobFlag {
		os.Exit(runChild())
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load worker config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)
	workerLog.Info("Worker starting",
		"queues", workerCfg.Queues,
		"count", workerCfg.Count,
		"blocking", workerCfg.Blocking,
		"interval", workerCfg.Interval,
		"isolation", workerCfg.Isolation,
		"redis_dsn", cfg.RedisDSN)

	// Start pprof server on a separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		workerLog.Info("Starting pprof/metrics server", "port", pprofPort,
			"pprof_url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort),
			"metrics_url", fmt.Sprintf("http://localhost:%s/metrics", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	store, err := keystore.New(cfg.RedisDSN, workerCfg.Prefix, nil)
	if err != nil {
		workerLog.Error("Failed to open key store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			workerLog.Error("Failed to close key store", "error", err)
		}
	}()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	env := buildEnvironment(store)
	wireMetrics(env.Bus, collector)

	workerLog.Info("Registered job handlers", "count", env.Factory.(*registry.MapFactory).Count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	wcfg := worker.Config{
		Queues:     workerCfg.Queues,
		Interval:   workerCfg.Interval,
		Blocking:   workerCfg.Blocking,
		Isolation:  worker.ParseIsolationMode(workerCfg.Isolation),
		JobTimeout: workerCfg.JobTimeout,
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCfg.Count; i++ {
		w := worker.New(env, wcfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerLog.Info("worker instance starting", "worker_id", w.ID())
			if err := w.Work(ctx); err != nil {
				workerLog.Error("worker instance exited with error", "worker_id", w.ID(), "error", err)
			}
		}()
	}

	sig := <-sigChan
	workerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)
	cancel()
	wg.Wait()

	workerLog.Info("Worker shut down successfully")
}

// buildEnvironment wires every capability a Worker needs against a single
// KeyStore connection: event bus, failure sink, job factory, status
// tracker, stat counters, and the queue engine.
func buildEnvironment(store *keystore.Store) *worker.Environment {
	bus := events.New()
	factory := registry.NewMapFactory()
	factory.Register("count_items", worker.NewCountItemsHandler)
	factory.Register("send_email", worker.NewSendEmailHandler)
	factory.Register("process_data", worker.NewProcessDataHandler)

	tracker := status.New(store, 24*time.Hour)

	return &worker.Environment{
		Store:   store,
		Bus:     bus,
		Failure: failure.NewRedisSink(store),
		Factory: factory,
		Status:  tracker,
		Stats:   stats.New(store),
		Queue:   queue.New(store, bus, tracker),
		Prefix:  store.Prefix(),
	}
}

// wireMetrics subscribes collector to the worker's event bus, so every
// reserved job's start/complete/fail is reflected in the process's
// Prometheus counters and histograms without performJob itself needing to
// know metrics exist.
func wireMetrics(bus *events.Bus, collector *metrics.Collector) {
	var mu sync.Mutex
	started := make(map[string]time.Time)

	bus.On(events.BeforePerform, func(args ...interface{}) events.Veto {
		if env, ok := args[2].(*job.Envelope); ok {
			mu.Lock()
			started[env.ID] = time.Now()
			mu.Unlock()
			collector.RecordJobStarted(env.Class)
		}
		return events.Proceed
	})

	bus.On(events.AfterPerform, func(args ...interface{}) events.Veto {
		if env, ok := args[2].(*job.Envelope); ok {
			collector.RecordJobCompleted(env.Class, takeSince(&mu, started, env.ID))
		}
		return events.Proceed
	})

	bus.On(events.OnFailure, func(args ...interface{}) events.Veto {
		if env, ok := args[2].(*job.Envelope); ok {
			collector.RecordJobFailed(env.Class, takeSince(&mu, started, env.ID))
		}
		return events.Proceed
	})
}

func takeSince(mu *sync.Mutex, started map[string]time.Time, id string) time.Duration {
	mu.Lock()
	defer mu.Unlock()
	start, ok := started[id]
	if !ok {
		return 0
	}
	delete(started, id)
	return time.Since(start)
}

// runChild is the re-exec'd subprocess entry point: it opens its own
// KeyStore connection (a forked child must not reuse the parent's),
// reads one job off stdin, performs it, and exits with the resulting
// code.
func runChild() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobyard: child failed to load config: %v\n", err)
		return 1
	}
	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobyard: child failed to load worker config: %v\n", err)
		return 1
	}
	store, err := keystore.New(cfg.RedisDSN, workerCfg.Prefix, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobyard: child failed to open key store: %v\n", err)
		return 1
	}
	defer store.Close()

	env := buildEnvironment(store)
	return worker.RunChild(context.Background(), env, os.Stdin)
}
