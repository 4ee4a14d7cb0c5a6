package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ScanStatus is the Scan lifecycle state (spec §3).
type ScanStatus string

const (
	ScanQueued    ScanStatus = "queued"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCanceled  ScanStatus = "canceled"
)

// JSONMap adapts an arbitrary JSON object to a JSONB column.
type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

func (m JSONMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan is one vulnerability-assessment request fanned out across agents.
type Scan struct {
	ID            string      `json:"id" db:"id"`
	VTOIDs        StringSlice `json:"vtOids" db:"vt_oids"`
	ScannerPrefs  JSONMap     `json:"scannerPrefs,omitempty" db:"scanner_prefs"`
	Targets       JSONMap     `json:"targets,omitempty" db:"targets"`
	AgentIDs      StringSlice `json:"agentIds" db:"agent_ids"`
	Status        ScanStatus  `json:"status" db:"status"`
	TotalJobs     int         `json:"totalJobs" db:"total_jobs"`
	TerminalJobs  int         `json:"terminalJobs" db:"terminal_jobs"`
	SucceededJobs int         `json:"succeededJobs" db:"succeeded_jobs"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	StartedAt     *time.Time  `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
}

// Progress returns the rounded-down percent complete per spec §3.
func (s *Scan) Progress() int {
	if s.TotalJobs == 0 {
		return 0
	}
	return 100 * s.TerminalJobs / s.TotalJobs
}

// CreateScanRequest is the body of POST /scans.
type CreateScanRequest struct {
	VTOIDs       []string               `json:"vts" binding:"required,min=1"`
	ScannerPrefs map[string]interface{} `json:"scannerPreferences,omitempty"`
	Targets      map[string]interface{} `json:"targets,omitempty"`
	AgentIDs     []string               `json:"agentIds" binding:"required,min=1"`
}

// CreateScanResponse mirrors spec §6's literal creation response.
type CreateScanResponse struct {
	ScanID         string `json:"scan_id"`
	Status         string `json:"status"`
	AgentsAssigned int    `json:"agents_assigned"`
}

// ScanAction is the body of POST /scans/{id} (start|stop).
type ScanAction struct {
	Action string `json:"action" binding:"required,oneof=start stop"`
}

// AgentRollup summarizes per-agent job counts for a scan status response.
type AgentRollup struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ScanStatusResponse is the body of GET /scans/{id}/status.
type ScanStatusResponse struct {
	ScanID          string      `json:"scan_id"`
	Status          ScanStatus  `json:"status"`
	Progress        int         `json:"progress"`
	AgentsTotal     int         `json:"agents_total"`
	AgentsCompleted int         `json:"agents_completed"`
	AgentsFailed    int         `json:"agents_failed"`
	Rollup          AgentRollup `json:"rollup"`
}
