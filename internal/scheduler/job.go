package scheduler

import (
	"time"

	"easel/internal/quality"
)

// Status is a job's position in the lifecycle state machine.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one generation request moving through the queue. Fields are
// mutated only by the Manager under its lock.
type Job struct {
	ID        string
	SessionID string
	CreatedAt time.Time

	BaseImage     []byte
	ScribbleImage []byte
	BaseName      string
	SketchName    string

	Prompt           string
	NegativePrompt   string
	QualityRequested quality.Level
	QualityEffective quality.Level
	Degraded         bool
	FilteredTerms    []string

	Status        Status
	Seed          *int64
	ResultPath    string
	ErrorMessage  string
	Cancelled     bool
	DownloadToken string
	FinishedAt    time.Time
}

// Snapshot is the synchronous status DTO returned to pollers.
type Snapshot struct {
	JobID            string  `json:"job_id"`
	Status           Status  `json:"status"`
	QualityEffective string  `json:"quality_effective"`
	QualityDegraded  bool    `json:"quality_degraded"`
	Seed             *int64  `json:"seed"`
	ResultURL        *string `json:"result_url"`
	DownloadToken    string  `json:"download_token,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
}
