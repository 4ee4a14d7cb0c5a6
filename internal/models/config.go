package models

import "time"

// AgentConfig is the single current global configuration, only-forward
// versioned (spec §4.6). Readers always observe a snapshot.
type AgentConfig struct {
	Version   int64     `json:"version" db:"version"`
	Payload   JSONMap   `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AgentConfigOverride is a per-agent patch layered on top of the current
// global AgentConfig at the version it was created against.
type AgentConfigOverride struct {
	AgentID string  `json:"agentId" db:"agent_id"`
	Version int64   `json:"version" db:"version"`
	Payload JSONMap `json:"payload" db:"payload"`
}

// ConfigOption describes one entry in the recognized-option catalog
// (spec §4.6) returned by GET /scans/preferences.
type ConfigOption struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// RecognizedOptions is the enumerated, strict schema of accepted config
// keys. Unknown keys are rejected outright — no silent acceptance.
var RecognizedOptions = []ConfigOption{
	{Key: "heartbeat.interval_in_seconds", Type: "integer", Description: "seconds between agent heartbeats, minimum 60"},
	{Key: "heartbeat.miss_until_inactive", Type: "integer", Description: "missed intervals tolerated before offline"},
	{Key: "retry.attempts", Type: "integer", Description: "maximum job retry attempts, minimum 1"},
	{Key: "retry.delay_in_seconds", Type: "integer", Description: "base retry delay, minimum 1"},
	{Key: "retry.max_jitter_in_seconds", Type: "integer", Description: "maximum retry jitter, minimum 0"},
	{Key: "executor.bulk_size", Type: "integer", Description: "result batch size, minimum 1"},
	{Key: "executor.bulk_throttle_time_in_ms", Type: "integer", Description: "throttle between batches, minimum 0"},
	{Key: "executor.scheduler_cron", Type: "array", Description: "cron expressions for the agent's NVT-sync schedule"},
}

// ConfigSnapshot is what GET /api/v1/agents/config returns.
type ConfigSnapshot struct {
	Version int64   `json:"version"`
	Config  JSONMap `json:"config"`
}

// ConfigPutRequest is the body of PUT /api/v1/admin/scan-agent-config.
type ConfigPutRequest struct {
	Payload map[string]interface{} `json:"payload" binding:"required"`
	AgentID string                 `json:"agentId,omitempty"`
}
