// Package models defines the core persistent entities of the Controller:
// agents, scans, jobs, results, and versioned agent configuration.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// LivenessState is one of the agent lifecycle states (spec §4.1).
type LivenessState string

const (
	LivenessPending    LivenessState = "pending"
	LivenessOnline     LivenessState = "online"
	LivenessOffline    LivenessState = "offline"
	LivenessInactive   LivenessState = "inactive"
	LivenessTombstoned LivenessState = "tombstoned"
)

// StringSlice adapts a Go string slice to a Postgres JSONB column holding a
// JSON array of strings.
type StringSlice []string

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Agent represents an endpoint-resident scanning worker.
//
// The agent_id is chosen by the agent on first contact and is immutable
// thereafter; the Controller's id column is a separate UUID that the
// Controller generates when the agent first registers (a surrogate key
// distinct from agent_id).
type Agent struct {
	ID                       string      `json:"id" db:"id"`
	AgentID                  string      `json:"agentId" db:"agent_id"`
	Hostname                 string      `json:"hostname" db:"hostname"`
	OS                       string      `json:"os" db:"os"`
	Arch                     string      `json:"arch" db:"arch"`
	Version                  string      `json:"version" db:"version"`
	DeclaredIPs              StringSlice `json:"declaredIps,omitempty" db:"declared_ips"`
	Authorized               bool        `json:"authorized" db:"authorized"`
	LivenessState            LivenessState `json:"livenessState" db:"liveness_state"`
	LastHeartbeatWall        time.Time   `json:"lastHeartbeatWall" db:"last_heartbeat_wall"`
	LastHeartbeatMonotonicNs int64       `json:"-" db:"last_heartbeat_monotonic_ns"`
	ConfigVersionSeen        int64       `json:"configVersionSeen" db:"config_version_seen"`
	TokenHash                *string     `json:"-" db:"token_hash"`
	TokenRotation            int         `json:"-" db:"token_rotation"`
	DeletedAt                *time.Time  `json:"deletedAt,omitempty" db:"deleted_at"`
	CreatedAt                time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt                time.Time   `json:"updatedAt" db:"updated_at"`
}

// IsTombstoned reports whether the agent has been soft-deleted by an admin.
func (a *Agent) IsTombstoned() bool {
	return a.LivenessState == LivenessTombstoned || a.DeletedAt != nil
}

// DeclaredAttrs is the set of self-reported attributes an agent may update
// on every heartbeat. Free-text fields here are sanitized before persisting.
type DeclaredAttrs struct {
	Hostname    string   `json:"hostname" binding:"required" validate:"required,max=255"`
	OS          string   `json:"os" binding:"required" validate:"required,max=100"`
	Arch        string   `json:"arch" binding:"required" validate:"required,max=50"`
	Version     string   `json:"version" binding:"required" validate:"required,max=50"`
	DeclaredIPs []string `json:"declaredIps,omitempty" validate:"omitempty,dive,ip"`
}

// HeartbeatRequest is the body of POST /api/v1/agents/heartbeat.
type HeartbeatRequest struct {
	DeclaredAttrs
}

// HeartbeatResponse mirrors spec §6's literal heartbeat response shape.
type HeartbeatResponse struct {
	Status                 string `json:"status"`
	ConfigUpdated          bool   `json:"config_updated"`
	NextHeartbeatInSeconds int    `json:"next_heartbeat_in_seconds"`
	Authorized             bool   `json:"authorized"`
}

// AgentPatch is the body of an admin PATCH over one or more agents.
type AgentPatch struct {
	AgentIDs       []string `json:"agentIds" binding:"required"`
	Authorized     *bool    `json:"authorized,omitempty"`
	UpdateToLatest *bool    `json:"update_to_latest,omitempty"`
}

// AgentDeleteRequest is the body of the bulk soft-delete endpoint.
type AgentDeleteRequest struct {
	AgentIDs []string `json:"agentIds" binding:"required"`
}

// AgentListFilter captures the admin list endpoint's query parameters.
type AgentListFilter struct {
	Liveness         string
	Authorized       *bool
	HostnamePrefix   string
	Page             int
	PageSize         int
}
