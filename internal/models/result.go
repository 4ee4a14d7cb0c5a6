package models

import "time"

// Threat is the enumerated severity label an agent attaches to a finding.
type Threat string

const (
	ThreatLog      Threat = "Log"
	ThreatLow      Threat = "Low"
	ThreatMedium   Threat = "Medium"
	ThreatHigh     Threat = "High"
	ThreatCritical Threat = "Critical"
)

// ValidThreats enumerates the closed set the Result Ingestor enforces.
var ValidThreats = map[Threat]bool{
	ThreatLog: true, ThreatLow: true, ThreatMedium: true,
	ThreatHigh: true, ThreatCritical: true,
}

// Result is one immutable finding submitted by an agent for a job.
type Result struct {
	ID            string    `json:"id" db:"id"`
	ScanID        string    `json:"scanId" db:"scan_id"`
	AgentID       string    `json:"agentId" db:"agent_id"`
	JobID         string    `json:"jobId" db:"job_id"`
	NVTOID        string    `json:"nvtOid" db:"nvt_oid"`
	Host          string    `json:"host" db:"host"`
	Port          string    `json:"port,omitempty" db:"port"`
	Severity      float64   `json:"severity" db:"severity"`
	Threat        Threat    `json:"threat" db:"threat"`
	Description   string    `json:"description,omitempty" db:"description"`
	QOD           int       `json:"qod,omitempty" db:"qod"`
	BatchSequence int64     `json:"batchSequence" db:"batch_sequence"`
	ItemIndex     int       `json:"itemIndex" db:"item_index"`
	SubmittedAt   time.Time `json:"submittedAt" db:"submitted_at"`
}

// ResultInput is one entry in a submission batch.
type ResultInput struct {
	NVTOID      string  `json:"nvt_oid" binding:"required" validate:"required,oid"`
	Host        string  `json:"host" binding:"required"`
	Port        string  `json:"port,omitempty"`
	Severity    float64 `json:"severity" validate:"severity"`
	Threat      string  `json:"threat" binding:"required" validate:"threat"`
	Description string  `json:"description,omitempty"`
	QOD         int     `json:"qod,omitempty" validate:"omitempty,min=0,max=100"`
}

// SubmitResultsRequest is the body of POST .../jobs/{id}/results.
//
// BatchSequence is the agent's own monotonic counter for this job — it
// increments once per distinct batch the agent produces, not once per
// HTTP call. Retrying a dropped-response POST resends the same
// BatchSequence, and the Ingestor uses (job_id, batch_sequence, item index)
// as its dedup key so the retry is a no-op rather than a duplicate insert.
type SubmitResultsRequest struct {
	BatchSequence int64         `json:"batch_sequence" validate:"min=0"`
	Results       []ResultInput `json:"results" binding:"required,min=1,dive"`
}

// ResultsResponse is the body of GET /scans/{id}/results.
type ResultsResponse struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Range   string   `json:"range,omitempty"`
}
