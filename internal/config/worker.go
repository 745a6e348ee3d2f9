package config

import (
	"fmt"
	"strings"
	"time"
)

// WorkerConfig holds the settings a single Worker process needs, renamed
// from a priority/job-type driven WorkerConfig onto resque-style env
// vars: QUEUE/INTERVAL/COUNT/BLOCKING/PREFIX name the core knobs, with
// the older WORKER_* names kept as aliases. Priority-queue and job-type
// filtering concepts have no equivalent here: "which jobs get attention
// first" is expressed through caller-ordered named queues instead, so
// Queues doubles as both routing list and priority order.
type WorkerConfig struct {
	// Queues is the ordered list of queue names this worker reserves
	// from; earlier entries are preferred (leftmost ready queue wins).
	Queues []string

	// Interval is how long a non-blocking reserve sleeps between empty
	// polls, or the BLPOP timeout in blocking mode.
	Interval time.Duration

	// Blocking selects BLPOP-based reservation over poll-and-sleep.
	Blocking bool

	// Count is the number of concurrent Worker instances this process
	// runs, each with its own identity and reservation loop.
	Count int

	// Isolation selects how a reserved job's Perform call is contained:
	// "inprocess" (goroutine + panic recovery) or "subprocess" (re-exec,
	// the default, a real fork substitute).
	Isolation string

	// JobTimeout bounds how long a single Perform call may run before
	// the worker treats it as failed. Zero disables the bound.
	JobTimeout time.Duration

	// Prefix is the KeyStore key namespace this worker operates under.
	Prefix string
}

// LoadWorkerConfig loads WorkerConfig from environment variables.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		Queues:     getEnvAsStringSlice("QUEUE", getEnvAsStringSlice("WORKER_ROUTING_KEYS", []string{"default"})),
		Interval:   getEnvAsDuration("INTERVAL", getEnvAsDuration("WORKER_INTERVAL", 5*time.Second)),
		Blocking:   getEnvAsBool("BLOCKING", getEnvAsBool("WORKER_BLOCKING", true)),
		Count:      getEnvAsInt("COUNT", getEnvAsInt("WORKER_CONCURRENCY", 1)),
		Isolation:  getEnv("ISOLATION", getEnv("WORKER_ISOLATION", "subprocess")),
		JobTimeout: getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
		Prefix:     getEnv("PREFIX", getEnv("REDIS_PREFIX", "resque:")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *WorkerConfig) Validate() error {
	if len(c.Queues) == 0 {
		return fmt.Errorf("QUEUE must name at least one queue")
	}
	for _, q := range c.Queues {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("QUEUE entries must not be empty")
		}
	}
	if c.Interval <= 0 {
		return fmt.Errorf("INTERVAL must be positive (got %v)", c.Interval)
	}
	if c.Count < 1 {
		return fmt.Errorf("COUNT must be at least 1 (got %d)", c.Count)
	}
	if c.Count > 1000 {
		return fmt.Errorf("COUNT too high: %d (maximum 1000)", c.Count)
	}
	if c.Isolation != "inprocess" && c.Isolation != "subprocess" {
		return fmt.Errorf("ISOLATION must be \"inprocess\" or \"subprocess\" (got %q)", c.Isolation)
	}
	return nil
}

// String returns a human-readable one-line summary.
func (c *WorkerConfig) String() string {
	return fmt.Sprintf(
		"WorkerConfig{queues=%s, count=%d, blocking=%v, interval=%v, isolation=%s}",
		strings.Join(c.Queues, ","), c.Count, c.Blocking, c.Interval, c.Isolation,
	)
}
