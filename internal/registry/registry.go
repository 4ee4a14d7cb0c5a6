// Package registry implements the Agent Registry: the persistent store of
// agents, their declared attributes, authorization state, and liveness.
//
// register_or_refresh is an upsert that never touches authorization —
// admin intent on that field must survive concurrent heartbeat traffic, so
// every write here goes through a per-agent row lock (SELECT ... FOR
// UPDATE) rather than a last-writer-wins UPDATE.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/db"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/models"
)

// Registry is the Agent Registry service.
type Registry struct {
	db        *db.Database
	cache     *cache.Cache
	sanitizer *bluemonday.Policy
}

// New constructs a Registry backed by the given database and optional cache.
func New(database *db.Database, c *cache.Cache) *Registry {
	return &Registry{
		db:        database,
		cache:     c,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (r *Registry) sanitize(attrs models.DeclaredAttrs) models.DeclaredAttrs {
	attrs.Hostname = r.sanitizer.Sanitize(attrs.Hostname)
	attrs.OS = r.sanitizer.Sanitize(attrs.OS)
	attrs.Arch = r.sanitizer.Sanitize(attrs.Arch)
	attrs.Version = r.sanitizer.Sanitize(attrs.Version)
	return attrs
}

// RegisterOrRefresh upserts an agent's declared attributes. A brand-new
// agent_id is created unauthorized with liveness "pending"; an existing one
// has its attributes refreshed and last_heartbeat bumped. authorized is
// never written here — only authorize() may flip it.
func (r *Registry) RegisterOrRefresh(ctx context.Context, agentID string, attrs models.DeclaredAttrs) (*models.Agent, error) {
	attrs = r.sanitize(attrs)
	now := time.Now()

	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	var agent models.Agent
	err = tx.QueryRowContext(ctx, `
		SELECT id, agent_id, hostname, os, arch, version, declared_ips, authorized,
		       liveness_state, last_heartbeat_wall, last_heartbeat_monotonic_ns,
		       config_version_seen, deleted_at, created_at, updated_at
		FROM agents WHERE agent_id = $1 FOR UPDATE
	`, agentID).Scan(
		&agent.ID, &agent.AgentID, &agent.Hostname, &agent.OS, &agent.Arch, &agent.Version,
		&agent.DeclaredIPs, &agent.Authorized, &agent.LivenessState,
		&agent.LastHeartbeatWall, &agent.LastHeartbeatMonotonicNs,
		&agent.ConfigVersionSeen, &agent.DeletedAt, &agent.CreatedAt, &agent.UpdatedAt,
	)

	switch {
	case err == sql.ErrNoRows:
		agent = models.Agent{
			ID:                uuid.New().String(),
			AgentID:           agentID,
			Hostname:          attrs.Hostname,
			OS:                attrs.OS,
			Arch:              attrs.Arch,
			Version:           attrs.Version,
			DeclaredIPs:       models.StringSlice(attrs.DeclaredIPs),
			Authorized:        false,
			LivenessState:     models.LivenessPending,
			LastHeartbeatWall: now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (id, agent_id, hostname, os, arch, version, declared_ips,
			                     authorized, liveness_state, last_heartbeat_wall,
			                     last_heartbeat_monotonic_ns, config_version_seen,
			                     created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $10, 0, $11, $11)
		`, agent.ID, agent.AgentID, agent.Hostname, agent.OS, agent.Arch, agent.Version,
			agent.DeclaredIPs, agent.LivenessState, now, now.UnixNano(), now)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
	case err != nil:
		return nil, apperrors.DatabaseError(err)
	default:
		if agent.IsTombstoned() {
			return nil, apperrors.Conflict("agent has been deregistered")
		}
		if now.Before(agent.LastHeartbeatWall) {
			// Clock skew or reordered delivery: keep last_heartbeat monotonic.
			now = agent.LastHeartbeatWall
		}
		agent.Hostname = attrs.Hostname
		agent.OS = attrs.OS
		agent.Arch = attrs.Arch
		agent.Version = attrs.Version
		agent.DeclaredIPs = models.StringSlice(attrs.DeclaredIPs)
		agent.LastHeartbeatWall = now
		agent.LastHeartbeatMonotonicNs = now.UnixNano()
		agent.UpdatedAt = now

		agent.LivenessState = Transition(agent.LivenessState, EventHeartbeat)

		_, err = tx.ExecContext(ctx, `
			UPDATE agents
			SET hostname = $2, os = $3, arch = $4, version = $5, declared_ips = $6,
			    liveness_state = $7, last_heartbeat_wall = $8,
			    last_heartbeat_monotonic_ns = $9, updated_at = $8
			WHERE id = $1
		`, agent.ID, agent.Hostname, agent.OS, agent.Arch, agent.Version,
			agent.DeclaredIPs, agent.LivenessState, now, now.UnixNano())
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if r.cache != nil {
		_ = r.cache.Delete(ctx, cache.LivenessSnapshotKey(agentID))
	}

	return &agent, nil
}

// Get fetches a single agent by its caller-facing agent_id.
func (r *Registry) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT id, agent_id, hostname, os, arch, version, declared_ips, authorized,
		       liveness_state, last_heartbeat_wall, last_heartbeat_monotonic_ns,
		       config_version_seen, deleted_at, created_at, updated_at
		FROM agents WHERE agent_id = $1
	`, agentID).Scan(
		&agent.ID, &agent.AgentID, &agent.Hostname, &agent.OS, &agent.Arch, &agent.Version,
		&agent.DeclaredIPs, &agent.Authorized, &agent.LivenessState,
		&agent.LastHeartbeatWall, &agent.LastHeartbeatMonotonicNs,
		&agent.ConfigVersionSeen, &agent.DeletedAt, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("agent")
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return &agent, nil
}

// TokenRotation returns the fields needed to validate an Agent surface
// bearer token without paying for the full agent row: the current
// rotation epoch, whether the agent is authorized, and whether it has
// been tombstoned. Called on every authenticated agent request, so it
// stays a single indexed lookup rather than going through Get.
func (r *Registry) TokenRotation(ctx context.Context, agentID string) (rotation int, authorized bool, tombstoned bool, err error) {
	var deletedAt sql.NullTime
	var livenessState models.LivenessState
	err = r.db.DB().QueryRowContext(ctx, `
		SELECT token_rotation, authorized, liveness_state, deleted_at FROM agents WHERE agent_id = $1
	`, agentID).Scan(&rotation, &authorized, &livenessState, &deletedAt)
	if err == sql.ErrNoRows {
		return 0, false, false, apperrors.NotFound("agent")
	}
	if err != nil {
		return 0, false, false, apperrors.DatabaseError(err)
	}
	tombstoned = livenessState == models.LivenessTombstoned || deletedAt.Valid
	return rotation, authorized, tombstoned, nil
}

// Authorize sets the admin-controlled authorized flag. It holds the same
// per-agent row lock as RegisterOrRefresh so a concurrent heartbeat cannot
// race an admin decision.
func (r *Registry) Authorize(ctx context.Context, agentID string, authorized bool) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	var deletedAt sql.NullTime
	var livenessState models.LivenessState
	err = tx.QueryRowContext(ctx, `SELECT deleted_at, liveness_state FROM agents WHERE agent_id = $1 FOR UPDATE`, agentID).Scan(&deletedAt, &livenessState)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("agent")
	}
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if deletedAt.Valid {
		return apperrors.Conflict("agent has been deregistered")
	}

	// Authorizing a pending agent is the only documented exit from pending
	// (spec §4.1); revoking authorization never demotes liveness — that is
	// still driven solely by heartbeat timing.
	if authorized && livenessState == models.LivenessPending {
		livenessState = models.LivenessOnline
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET authorized = $2, liveness_state = $3, updated_at = $4 WHERE agent_id = $1
	`, agentID, authorized, livenessState, time.Now()); err != nil {
		return apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError(err)
	}

	logger.Registry().Info().Str("agent_id", agentID).Bool("authorized", authorized).Msg("agent authorization changed")
	return nil
}

// Update applies an admin patch (authorized / update_to_latest) to a set of
// agents.
func (r *Registry) Update(ctx context.Context, patch models.AgentPatch) error {
	for _, agentID := range patch.AgentIDs {
		if patch.Authorized != nil {
			if err := r.Authorize(ctx, agentID, *patch.Authorized); err != nil {
				return err
			}
		}
		if patch.UpdateToLatest != nil && *patch.UpdateToLatest {
			if _, err := r.db.DB().ExecContext(ctx, `
				UPDATE agents SET config_version_seen = 0, updated_at = $2 WHERE agent_id = $1
			`, agentID, time.Now()); err != nil {
				return apperrors.DatabaseError(err)
			}
		}
	}
	return nil
}

// Delete soft-deletes (tombstones) a set of agents. A still-polling agent
// receives one terminal "deregistered" signal on its next heartbeat and
// then ceases, per spec.
func (r *Registry) Delete(ctx context.Context, agentIDs []string) error {
	now := time.Now()
	for _, agentID := range agentIDs {
		res, err := r.db.DB().ExecContext(ctx, `
			UPDATE agents
			SET liveness_state = $2, deleted_at = $3, updated_at = $3
			WHERE agent_id = $1 AND deleted_at IS NULL
		`, agentID, models.LivenessTombstoned, now)
		if err != nil {
			return apperrors.DatabaseError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if r.cache != nil {
			_ = r.cache.Delete(ctx, cache.LivenessSnapshotKey(agentID))
		}
		logger.Registry().Info().Str("agent_id", agentID).Msg("agent tombstoned")
	}
	return nil
}

// List returns a page of agents matching filter, ordered by
// (last_heartbeat desc, agent_id) for stable scrolling.
func (r *Registry) List(ctx context.Context, filter models.AgentListFilter) ([]models.Agent, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argIdx := 1

	if filter.Liveness != "" {
		where = append(where, fmt.Sprintf("liveness_state = $%d", argIdx))
		args = append(args, filter.Liveness)
		argIdx++
	}
	if filter.Authorized != nil {
		where = append(where, fmt.Sprintf("authorized = $%d", argIdx))
		args = append(args, *filter.Authorized)
		argIdx++
	}
	if filter.HostnamePrefix != "" {
		where = append(where, fmt.Sprintf("hostname LIKE $%d", argIdx))
		args = append(args, filter.HostnamePrefix+"%")
		argIdx++
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM agents WHERE %s", whereClause)
	if err := r.db.DB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.DatabaseError(err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT id, agent_id, hostname, os, arch, version, declared_ips, authorized,
		       liveness_state, last_heartbeat_wall, last_heartbeat_monotonic_ns,
		       config_version_seen, deleted_at, created_at, updated_at
		FROM agents
		WHERE %s
		ORDER BY last_heartbeat_wall DESC, agent_id ASC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.DatabaseError(err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		var agent models.Agent
		if err := rows.Scan(
			&agent.ID, &agent.AgentID, &agent.Hostname, &agent.OS, &agent.Arch, &agent.Version,
			&agent.DeclaredIPs, &agent.Authorized, &agent.LivenessState,
			&agent.LastHeartbeatWall, &agent.LastHeartbeatMonotonicNs,
			&agent.ConfigVersionSeen, &agent.DeletedAt, &agent.CreatedAt, &agent.UpdatedAt,
		); err != nil {
			return nil, 0, apperrors.DatabaseError(err)
		}
		agents = append(agents, agent)
	}

	return agents, total, nil
}
