package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadWorkerConfig_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Queues) != 1 || cfg.Queues[0] != "default" {
		t.Errorf("expected default queue [\"default\"], got %v", cfg.Queues)
	}
	if cfg.Count != 1 {
		t.Errorf("expected count=1, got %d", cfg.Count)
	}
	if !cfg.Blocking {
		t.Error("expected blocking=true by default")
	}
	if cfg.Isolation != "subprocess" {
		t.Errorf("expected isolation=subprocess by default, got %s", cfg.Isolation)
	}
}

func TestLoadWorkerConfig_QueueOrderPreserved(t *testing.T) {
	os.Clearenv()
	os.Setenv("QUEUE", "high,low")
	os.Setenv("COUNT", "4")
	os.Setenv("ISOLATION", "inprocess")

	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Queues) != 2 || cfg.Queues[0] != "high" || cfg.Queues[1] != "low" {
		t.Errorf("expected queue order [high low], got %v", cfg.Queues)
	}
	if cfg.Count != 4 {
		t.Errorf("expected count=4, got %d", cfg.Count)
	}
	if cfg.Isolation != "inprocess" {
		t.Errorf("expected isolation=inprocess, got %s", cfg.Isolation)
	}
}

func TestLoadWorkerConfig_LegacyAliasesHonored(t *testing.T) {
	os.Clearenv()
	os.Setenv("WORKER_ROUTING_KEYS", "gpu,default")
	os.Setenv("WORKER_CONCURRENCY", "3")

	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Queues) != 2 || cfg.Queues[0] != "gpu" {
		t.Errorf("expected legacy WORKER_ROUTING_KEYS to populate Queues, got %v", cfg.Queues)
	}
	if cfg.Count != 3 {
		t.Errorf("expected legacy WORKER_CONCURRENCY to populate Count, got %d", cfg.Count)
	}
}

func TestValidate_RejectsEmptyQueueList(t *testing.T) {
	cfg := &WorkerConfig{Queues: nil, Interval: time.Second, Count: 1, Isolation: "subprocess"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty queue list")
	}
}

func TestValidate_RejectsBadIsolation(t *testing.T) {
	cfg := &WorkerConfig{Queues: []string{"default"}, Interval: time.Second, Count: 1, Isolation: "thread"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unrecognized isolation mode")
	}
}

func TestValidate_RejectsZeroInterval(t *testing.T) {
	cfg := &WorkerConfig{Queues: []string{"default"}, Interval: 0, Count: 1, Isolation: "subprocess"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero interval")
	}
}

func TestWorkerConfigString(t *testing.T) {
	cfg := &WorkerConfig{
		Queues:    []string{"high", "low"},
		Count:     2,
		Blocking:  true,
		Interval:  5 * time.Second,
		Isolation: "subprocess",
	}
	s := cfg.String()
	if s == "" {
		t.Error("expected non-empty string representation")
	}
}
