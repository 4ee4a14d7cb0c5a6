// Package cache provides Redis-based caching for the Controller.
//
// This file defines the cache key namespace. The Config Service reads and
// writes the config keys; the Agent Registry and the Liveness Monitor
// delete an agent's liveness key whenever they change its state.
//
// Key Patterns for Invalidation:
//   - config:* - All config caches, flushed on any admin config write
//   - liveness:* - All liveness snapshots
package cache

import "fmt"

// Key prefixes for different resource types
const (
	PrefixConfig   = "config"
	PrefixLiveness = "liveness"
	PrefixAgent    = "agent"
)

// ConfigVersionKey caches the current global AgentConfig (version, payload
// and creation time), read by configsvc.Service.Current and invalidated on
// every global config write.
func ConfigVersionKey() string {
	return fmt.Sprintf("%s:version", PrefixConfig)
}

// ConfigSnapshotKey names a cache key for one config version's payload; no
// Controller code reads or writes it.
func ConfigSnapshotKey(version int64) string {
	return fmt.Sprintf("%s:snapshot:%d", PrefixConfig, version)
}

// ConfigOverrideKey names a per-agent override's cache key. PutOverride
// deletes it after each override write; overrides themselves are read from
// Postgres, not from this key.
func ConfigOverrideKey(agentID string) string {
	return fmt.Sprintf("%s:override:%s", PrefixConfig, agentID)
}

// ConfigPattern matches every config cache key, for invalidation on any
// admin write to the global config or an agent override.
func ConfigPattern() string {
	return fmt.Sprintf("%s:*", PrefixConfig)
}

// LivenessSnapshotKey names an agent's liveness snapshot key. The Registry
// and the Liveness Monitor delete it whenever they change the agent's
// state; no code writes or reads a snapshot under it.
func LivenessSnapshotKey(agentID string) string {
	return fmt.Sprintf("%s:%s", PrefixLiveness, agentID)
}

// LivenessPattern matches every liveness snapshot key.
func LivenessPattern() string {
	return fmt.Sprintf("%s:*", PrefixLiveness)
}

// AgentLastSeenKey names a per-agent last-seen timestamp key; no Controller
// code reads or writes it. Heartbeat monotonicity is enforced in Postgres
// by registry.RegisterOrRefresh.
func AgentLastSeenKey(agentID string) string {
	return fmt.Sprintf("%s:%s:last_seen", PrefixAgent, agentID)
}
