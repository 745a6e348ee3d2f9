// Package main provides the jobyard API server: a thin HTTP front end
// over pkg/client for submitting jobs and polling their status/result.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/config"
	"github.com/muaviaUsmani/jobyard/internal/logger"
	"github.com/muaviaUsmani/jobyard/internal/status"
	"github.com/muaviaUsmani/jobyard/pkg/client"
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

	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)

	apiLog.Info("API server starting",
		"redis_dsn", cfg.RedisDSN,
		"api_port", cfg.APIPort,
		"result_backend_enabled", cfg.ResultBackendEnabled)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	c, err := client.NewWithOptions(cfg.RedisDSN, &client.Options{
		Prefix:           cfg.Prefix,
		StatusTTL:        24 * time.Hour,
		ResultSuccessTTL: cfg.ResultBackendTTLSuccess,
		ResultFailureTTL: cfg.ResultBackendTTLFailure,
	})
	if err != nil {
		apiLog.Error("Failed to connect job client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			apiLog.Error("Failed to close job client", "error", err)
		}
	}()

	srv := &api{client: c, log: apiLog}

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "jobyard API server")
	})
	mainMux.HandleFunc("POST /jobs", srv.submitJob)
	mainMux.HandleFunc("GET /jobs/{id}/status", srv.jobStatus)
	mainMux.HandleFunc("GET /jobs/{id}/result", srv.jobResult)

	addr := ":" + cfg.APIPort
	apiLog.Info("API server listening", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           mainMux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		apiLog.Error("API server failed", "error", err)
		os.Exit(1)
	}
}

// api bundles the handlers that sit on top of a pkg/client.Client.
type api struct {
	client *client.Client
	log    logger.Logger
}

// submitRequest is the POST /jobs request body. Exactly one of
// ScheduleIn/ScheduleAt may be set; if neither is, the job is enqueued
// for immediate reservation.
type submitRequest struct {
	Queue       string                 `json:"queue"`
	Class       string                 `json:"class"`
	Args        map[string]interface{} `json:"args"`
	TrackStatus bool                   `json:"track_status"`
	ScheduleIn  int64                  `json:"schedule_in_seconds,omitempty"`
	ScheduleAt  int64                  `json:"schedule_at_unix,omitempty"`
}

type submitResponse struct {
	ID string `json:"id,omitempty"`
}

func (a *api) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Queue == "" || req.Class == "" {
		writeError(w, http.StatusBadRequest, "queue and class are required")
		return
	}

	ctx := r.Context()

	switch {
	case req.ScheduleIn > 0:
		if err := a.client.SubmitIn(ctx, req.ScheduleIn, req.Queue, req.Class, req.Args); err != nil {
			a.log.Error("failed to schedule job", "queue", req.Queue, "class", req.Class, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to schedule job")
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{})
	case req.ScheduleAt > 0:
		if err := a.client.SubmitAt(ctx, req.ScheduleAt, req.Queue, req.Class, req.Args); err != nil {
			a.log.Error("failed to schedule job", "queue", req.Queue, "class", req.Class, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to schedule job")
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{})
	default:
		id, err := a.client.Submit(ctx, req.Queue, req.Class, req.Args, req.TrackStatus)
		if err != nil {
			a.log.Error("failed to submit job", "queue", req.Queue, "class", req.Class, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to submit job")
			return
		}
		writeJSON(w, http.StatusCreated, submitResponse{ID: id})
	}
}

type statusResponse struct {
	ID    string       `json:"id"`
	State status.State `json:"state"`
}

func (a *api) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, ok, err := a.client.Status(r.Context(), id)
	if err != nil {
		a.log.Error("failed to look up job status", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up job status")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job status not found")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, State: state})
}

func (a *api) jobResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := a.client.GetResult(r.Context(), id)
	if err != nil {
		a.log.Error("failed to look up job result", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up job result")
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "job result not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
