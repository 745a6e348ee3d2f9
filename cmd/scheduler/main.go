// Package main provides the jobyard scheduler service: delayed-job
// promotion and recurring cron-style enqueue.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/config"
	"github.com/muaviaUsmani/jobyard/internal/cron"
	"github.com/muaviaUsmani/jobyard/internal/delayed"
	"github.com/muaviaUsmani/jobyard/internal/events"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
	"github.com/muaviaUsmani/jobyard/internal/logger"
	"github.com/muaviaUsmani/jobyard/internal/queue"
	"github.com/muaviaUsmani/jobyard/internal/stats"
	"github.com/muaviaUsmani/jobyard/internal/status"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

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

	schedulerLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)
	schedulerLog.Info("Scheduler starting",
		"redis_dsn", cfg.RedisDSN,
		"cron_enabled", cfg.CronSchedulerEnabled,
		"cron_interval", cfg.CronSchedulerInterval)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		schedulerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			schedulerLog.Error("pprof server failed", "error", err)
		}
	}()

	store, err := keystore.New(cfg.RedisDSN, cfg.Prefix, nil)
	if err != nil {
		schedulerLog.Error("Failed to open key store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			schedulerLog.Error("Failed to close key store", "error", err)
		}
	}()

	bus := events.New()
	tracker := status.New(store, 24*time.Hour)
	counters := stats.New(store)
	engine := queue.New(store, bus, tracker)
	delayedScheduler := delayed.New(store, bus, counters)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cronScheduler *cron.Scheduler
	if cfg.CronSchedulerEnabled {
		registry := cron.NewRegistry()

		// TODO: register the deployment's recurring schedules here, e.g.
		// registry.MustRegister(&cron.Schedule{
		// 	ID: "daily-report", Cron: "0 0 * * *", Queue: "default",
		// 	Class: "generate_report", Timezone: "UTC", Enabled: true,
		// })

		cronScheduler = cron.New(registry, engine, store, cfg.CronSchedulerInterval)
		schedulerLog.Info("Cron scheduler initialized",
			"interval", cfg.CronSchedulerInterval, "schedules", registry.Count())
		go cronScheduler.Run(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	promoteInterval := 1 * time.Second
	if v := os.Getenv("INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			promoteInterval = d
		}
	}

	go func() {
		ticker := time.NewTicker(promoteInterval)
		defer ticker.Stop()

		schedulerLog.Info("Scheduler ready - promoting delayed jobs")
		for {
			select {
			case <-ticker.C:
				count, err := delayedScheduler.PromoteReady(ctx, engine, time.Now().Unix())
				if err != nil {
					schedulerLog.Error("Error promoting delayed jobs", "error", err)
					continue
				}
				if count > 0 {
					schedulerLog.Info("Promoted delayed jobs to their queues", "count", count)
				}
			case <-ctx.Done():
				schedulerLog.Info("Delayed-promotion loop stopping")
				return
			}
		}
	}()

	sig := <-sigChan
	schedulerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)
	cancel()
	time.Sleep(2 * time.Second)

	schedulerLog.Info("Scheduler shut down successfully")
}
