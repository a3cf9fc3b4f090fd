package job

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses. Idle is only reported when no job has run yet.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Settled reports whether s is a terminal status.
func (s Status) Settled() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Config is the opaque task configuration. The orchestrator only checks
// required keys and passes it through untouched.
type Config map[string]any

// Result is the opaque payload a task returns on success.
type Result any

// TaskFunc runs one task. ctx is cancelled when the job times out or is
// cancelled; tasks should return promptly when that happens but the
// orchestrator never waits for them to do so.
type TaskFunc func(ctx context.Context, cfg Config) (Result, error)

// Task is a registered task type.
type Task struct {
	Type     string
	Required []string // config keys that must be present and non-empty
	Run      TaskFunc
}

// Request represents a request to start a job.
type Request struct {
	TaskType        string `json:"taskType"`
	Config          Config `json:"config"`
	DeadlineSeconds int    `json:"deadlineSeconds,omitempty"`
}

// Deadline returns the request deadline, zero meaning none.
func (r *Request) Deadline() time.Duration {
	return time.Duration(r.DeadlineSeconds) * time.Second
}

// Outcome describes a settled job.
type Outcome struct {
	JobID    string        `json:"jobId"`
	TaskType string        `json:"taskType"`
	Status   Status        `json:"status"`
	Result   Result        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	LogPath  string        `json:"logPath,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Chunk is the run of bytes appended to a log file since the previous chunk.
type Chunk struct {
	JobID  string `json:"jobId"`
	Path   string `json:"path"`
	Offset int64  `json:"offset"` // file offset of the first byte of Data
	Data   string `json:"data"`
}

// Snapshot is a read-only view of the current or most recent job.
type Snapshot struct {
	JobID      string     `json:"jobId,omitempty"`
	TaskType   string     `json:"taskType,omitempty"`
	Status     Status     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	LogPath    string     `json:"logPath,omitempty"`
	Error      string     `json:"error,omitempty"`
}
