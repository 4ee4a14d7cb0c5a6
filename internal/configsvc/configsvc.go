// Package configsvc implements the Config Service: the single current
// AgentConfig plus per-agent overrides (spec §4.6). Postgres is the source
// of truth; Redis holds a read-through cache invalidated on every write,
// grounded on the teacher's internal/cache pattern.
package configsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/db"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/validator"
)

const (
	defaultHeartbeatIntervalSeconds = 60
	defaultMissUntilInactive        = 1
	snapshotTTL                     = 5 * time.Minute
)

// Service is the Config Service.
type Service struct {
	db    *db.Database
	cache *cache.Cache
}

// New constructs a Service.
func New(database *db.Database, c *cache.Cache) *Service {
	return &Service{db: database, cache: c}
}

// schemaValidators enforces the strict recognized-option schema (spec
// §4.6): unknown keys are rejected, known keys are type- and bound-checked.
var schemaValidators = map[string]func(json.RawMessage) error{
	"heartbeat.interval_in_seconds":  validateIntGTE(60),
	"heartbeat.miss_until_inactive":  validateIntGTE(0),
	"retry.attempts":                 validateIntGTE(1),
	"retry.delay_in_seconds":         validateIntGTE(1),
	"retry.max_jitter_in_seconds":    validateIntGTE(0),
	"executor.bulk_size":             validateIntGTE(1),
	"executor.bulk_throttle_time_in_ms": validateIntGTE(0),
	"executor.scheduler_cron":        validateCronList,
}

func validateIntGTE(min int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("must be an integer: %w", err)
		}
		if v < min {
			return fmt.Errorf("must be >= %d", min)
		}
		return nil
	}
}

func validateCronList(raw json.RawMessage) error {
	var exprs []string
	if err := json.Unmarshal(raw, &exprs); err != nil {
		return fmt.Errorf("must be an array of cron expressions: %w", err)
	}
	for _, expr := range exprs {
		if err := validator.ValidateCronExpr(expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}
	return nil
}

// ValidatePayload enforces the recognized-option schema against a proposed
// config payload.
func ValidatePayload(payload map[string]interface{}) error {
	for key, value := range payload {
		validate, known := schemaValidators[key]
		if !known {
			return fmt.Errorf("unrecognized config option: %s", key)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := validate(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Current returns the current global AgentConfig.
func (s *Service) Current(ctx context.Context) (*models.AgentConfig, error) {
	if s.cache != nil {
		var cfg models.AgentConfig
		if err := s.cache.Get(ctx, cache.ConfigVersionKey(), &cfg); err == nil {
			return &cfg, nil
		}
	}

	var cfg models.AgentConfig
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT version, payload, created_at FROM agent_configs ORDER BY version DESC LIMIT 1
	`).Scan(&cfg.Version, &cfg.Payload, &cfg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.InternalError("no config version seeded")
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cache.ConfigVersionKey(), cfg, snapshotTTL)
	}
	return &cfg, nil
}

// Put writes a new global config version. The global version always
// increments (only-forward versioning, spec §4.6).
func (s *Service) Put(ctx context.Context, payload map[string]interface{}) (*models.AgentConfig, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, apperrors.ValidationError("invalid config payload", []string{err.Error()})
	}

	now := time.Now()
	var cfg models.AgentConfig
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO agent_configs (version, payload, created_at)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2 FROM agent_configs
		RETURNING version, payload, created_at
	`, models.JSONMap(payload), now).Scan(&cfg.Version, &cfg.Payload, &cfg.CreatedAt)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.cache != nil {
		_ = s.cache.DeletePattern(ctx, cache.ConfigPattern())
	}

	logger.Config().Info().Int64("version", cfg.Version).Msg("global config updated")
	return &cfg, nil
}

// PutOverride writes or replaces a per-agent override layered on top of the
// current global config.
func (s *Service) PutOverride(ctx context.Context, agentID string, payload map[string]interface{}) error {
	if err := ValidatePayload(payload); err != nil {
		return apperrors.ValidationError("invalid config override", []string{err.Error()})
	}

	current, err := s.Current(ctx)
	if err != nil {
		return err
	}

	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO agent_config_overrides (agent_id, version, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET version = $2, payload = $3
	`, agentID, current.Version, models.JSONMap(payload))
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.ConfigOverrideKey(agentID))
	}
	return nil
}

// SnapshotFor returns the effective config for an agent: the global config
// with any per-agent override keys merged on top.
func (s *Service) SnapshotFor(ctx context.Context, agentID string) (*models.ConfigSnapshot, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	merged := models.JSONMap{}
	for k, v := range current.Payload {
		merged[k] = v
	}

	var overridePayload models.JSONMap
	err = s.db.DB().QueryRowContext(ctx, `
		SELECT payload FROM agent_config_overrides WHERE agent_id = $1
	`, agentID).Scan(&overridePayload)
	if err != nil && err != sql.ErrNoRows {
		return nil, apperrors.DatabaseError(err)
	}
	for k, v := range overridePayload {
		merged[k] = v
	}

	return &models.ConfigSnapshot{Version: current.Version, Config: merged}, nil
}

// EffectiveRetryPolicy returns the (max_attempts, delay_seconds,
// max_jitter_seconds) triple governing job lease/retry behavior for an
// agent, falling back to sane defaults when unset.
func (s *Service) EffectiveRetryPolicy(ctx context.Context, agentID string) (maxAttempts int, delaySeconds int, maxJitterSeconds int) {
	maxAttempts, delaySeconds, maxJitterSeconds = 3, 5, 2

	snapshot, err := s.SnapshotFor(ctx, agentID)
	if err != nil {
		return
	}
	if v, ok := snapshot.Config["retry.attempts"]; ok {
		if f, ok := v.(float64); ok {
			maxAttempts = int(f)
		}
	}
	if v, ok := snapshot.Config["retry.delay_in_seconds"]; ok {
		if f, ok := v.(float64); ok {
			delaySeconds = int(f)
		}
	}
	if v, ok := snapshot.Config["retry.max_jitter_in_seconds"]; ok {
		if f, ok := v.(float64); ok {
			maxJitterSeconds = int(f)
		}
	}
	return
}

// EffectiveHeartbeatPolicy returns the (interval_seconds, miss_until_inactive)
// pair governing an agent's liveness thresholds, falling back to the
// package defaults when unset.
func (s *Service) EffectiveHeartbeatPolicy(ctx context.Context, agentID string) (intervalSeconds int, missUntilInactive int) {
	intervalSeconds, missUntilInactive = defaultHeartbeatIntervalSeconds, defaultMissUntilInactive

	snapshot, err := s.SnapshotFor(ctx, agentID)
	if err != nil {
		return
	}
	if v, ok := snapshot.Config["heartbeat.interval_in_seconds"]; ok {
		if f, ok := v.(float64); ok {
			intervalSeconds = int(f)
		}
	}
	if v, ok := snapshot.Config["heartbeat.miss_until_inactive"]; ok {
		if f, ok := v.(float64); ok {
			missUntilInactive = int(f)
		}
	}
	return
}
