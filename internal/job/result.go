package job

import (
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/status"
)

// Result represents the outcome of a completed job, written by the worker
// after perform/fail and optionally read back through internal/result.
//
// Rewired from a separate JobStatus enum onto the shared status.State
// type so the status tracker and the result backend agree on
// vocabulary.
type Result struct {
	JobID       string          `json:"job_id"`
	Status      status.State    `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

// IsSuccess reports whether the job completed successfully.
func (r *Result) IsSuccess() bool {
	return r.Status == status.Complete
}

// IsFailed reports whether the job failed.
func (r *Result) IsFailed() bool {
	return r.Status == status.Failed
}

// Unmarshal unmarshals the result payload into dest. Returns a
// *ResultError if the job failed.
func (r *Result) Unmarshal(dest interface{}) error {
	if r.IsFailed() {
		return &ResultError{Message: r.Error}
	}
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, dest)
}

// ResultError represents a failure to retrieve or process a job's result.
type ResultError struct {
	Message string
}

func (e *ResultError) Error() string {
	return e.Message
}
