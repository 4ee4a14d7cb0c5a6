package models

import "time"

// JobStatus is the tagged-variant job lifecycle state (spec §9).
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobAssigned  JobStatus = "assigned"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
	JobCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether a job status never transitions further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCanceled:
		return true
	default:
		return false
	}
}

// Job is one agent's share of a scan; unique per (scan_id, agent_id).
type Job struct {
	ID          string     `json:"id" db:"id"`
	ScanID      string     `json:"scanId" db:"scan_id"`
	AgentID     string     `json:"agentId" db:"agent_id"`
	Status      JobStatus  `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	Priority    int        `json:"priority" db:"priority"`
	EnqueuedAt  time.Time  `json:"enqueuedAt" db:"enqueued_at"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty" db:"assigned_at"`
	DeadlineAt  *time.Time `json:"deadlineAt,omitempty" db:"deadline_at"`
	ConfigBlob  JSONMap    `json:"configBlob,omitempty" db:"config_blob"`
	FailReason  *string    `json:"failReason,omitempty" db:"fail_reason"`
}

// JobView is what an agent sees when polling for work — no internal
// scheduling fields (priority, attempts) are exposed.
type JobView struct {
	JobID      string  `json:"job_id"`
	ScanID     string  `json:"scan_id"`
	VTOIDs     []string `json:"vts"`
	Targets    JSONMap `json:"targets,omitempty"`
	ConfigBlob JSONMap `json:"config,omitempty"`
	DeadlineAt string  `json:"deadline_at"`
}

// JobsResponse is the body of GET /api/v1/agents/jobs.
type JobsResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobCompleteRequest is the body of POST .../jobs/{id}/complete.
type JobCompleteRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=completed failed"`
	Summary string `json:"summary,omitempty"`
}
