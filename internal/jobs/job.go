// Package jobs holds the analysis job record, its status store backends,
// the worker queue and the service behind the HTTP job endpoints.
package jobs

import (
	"time"

	"github.com/spigell/fit-analyzer/internal/analysis"
)

// Status is the coarse job state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is the fine-grained pipeline position.
type Step string

const (
	StepUpload           Step = "upload"
	StepQueued           Step = "queued"
	StepParallelAnalysis Step = "parallel_analysis"
	StepComparison       Step = "comparison"
	StepCompleted        Step = "completed"
	StepError            Step = "error"
)

// Failure describes why a job failed.
type Failure struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// File is a document the client announced at upload time.
type File struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
}

// Result is the terminal payload of a completed job.
type Result struct {
	Company    *analysis.StageResult `json:"company"`
	Candidate  *analysis.StageResult `json:"candidate"`
	CultureFit *analysis.Comparison  `json:"culture_fit"`
}

// Job is the status record kept per token. A record never carries both
// Result and Error.
type Job struct {
	Token     string     `json:"result_key"`
	Status    Status     `json:"status"`
	Step      Step       `json:"step"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	JDURL     string     `json:"jd_url"`
	Files     []File     `json:"files,omitempty"`
	Documents []string   `json:"documents,omitempty"`
	Result    *Result    `json:"result,omitempty"`
	Error     *Failure   `json:"error,omitempty"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Clone returns a copy that shares nothing mutable with j. Result is
// shared since it is never modified once set.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Files != nil {
		c.Files = append([]File(nil), j.Files...)
	}
	if j.Documents != nil {
		c.Documents = append([]string(nil), j.Documents...)
	}
	if j.Error != nil {
		failure := *j.Error
		c.Error = &failure
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		c.StartedAt = &started
	}
	return &c
}

// Snapshot is the client view of a job.
type Snapshot struct {
	Token     string    `json:"result_key"`
	Status    Status    `json:"status"`
	Step      Step      `json:"step"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	JDURL     string    `json:"jd_url"`
	Error     *Failure  `json:"error,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the client view of j.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		Token:     j.Token,
		Status:    j.Status,
		Step:      j.Step,
		Progress:  j.Progress,
		Message:   j.Message,
		JDURL:     j.JDURL,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Error != nil {
		failure := *j.Error
		s.Error = &failure
	} else {
		s.Result = j.Result
	}
	return s
}
