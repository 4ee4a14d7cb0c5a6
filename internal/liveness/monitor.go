// Package liveness implements the background sweep that demotes stale
// agents through the registry's state machine.
//
// Adapted from the teacher's tracker.ConnectionTracker shape: a
// time.Ticker-driven loop with Start/Stop, except the sweep never holds a
// package-level lock over the whole agent set — each agent gets its own
// short SELECT ... FOR UPDATE transaction, so the sweep runs concurrently
// with request handlers touching other agents (spec §5 "contention is
// localized to per-agent rows").
package liveness

import (
	"context"
	"database/sql"
	"time"

	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/db"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/metrics"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/registry"
)

// Monitor runs the periodic liveness sweep.
type Monitor struct {
	db            *db.Database
	cache         *cache.Cache
	config        *configsvc.Service
	checkInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewMonitor constructs a Monitor. checkInterval controls how often the
// sweep runs; spec leaves the exact cadence as an implementation detail, 30s
// matches the teacher's connection tracker default.
func NewMonitor(database *db.Database, c *cache.Cache, config *configsvc.Service) *Monitor {
	return &Monitor{
		db:            database,
		cache:         c,
		config:        config,
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is canceled or Stop is called. Meant
// to be run in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	log := logger.Liveness()
	log.Info().Dur("interval", m.checkInterval).Msg("liveness monitor started")

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	defer close(m.doneCh)

	for {
		select {
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("liveness sweep failed")
			}
		case <-m.stopCh:
			log.Info().Msg("liveness monitor stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("liveness monitor stopped (context canceled)")
			return
		}
	}
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

type candidateRow struct {
	agentID       string
	state         models.LivenessState
	lastHeartbeat time.Time
}

// Sweep scans agents currently in a non-terminal, non-pending liveness
// state and evaluates the Transition for each under its own short
// transaction. Exported so it can be driven synchronously (tests, a manual
// admin trigger) as well as from the ticker loop in Start.
func (m *Monitor) Sweep(ctx context.Context) error {
	rows, err := m.db.DB().QueryContext(ctx, `
		SELECT agent_id, liveness_state, last_heartbeat_wall
		FROM agents
		WHERE liveness_state IN ('online', 'offline') AND deleted_at IS NULL
	`)
	if err != nil {
		return err
	}

	var candidates []candidateRow
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.agentID, &c.state, &c.lastHeartbeat); err != nil {
			rows.Close()
			return err
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	now := time.Now()
	for _, c := range candidates {
		if err := m.evaluateOne(ctx, c, now); err != nil {
			logger.Liveness().Error().Err(err).Str("agent_id", c.agentID).Msg("failed to evaluate agent liveness")
		}
	}
	return nil
}

func (m *Monitor) evaluateOne(ctx context.Context, c candidateRow, now time.Time) error {
	intervalSeconds, missUntilInactive := m.config.EffectiveHeartbeatPolicy(ctx, c.agentID)

	elapsed := now.Sub(c.lastHeartbeat)
	event, ok := registry.EventForElapsed(c.state, elapsed, intervalSeconds, missUntilInactive)
	if !ok {
		return nil
	}

	tx, err := m.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current models.LivenessState
	var lastHeartbeat time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT liveness_state, last_heartbeat_wall FROM agents WHERE agent_id = $1 FOR UPDATE
	`, c.agentID).Scan(&current, &lastHeartbeat)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	// Re-derive against the freshest row: a heartbeat may have landed
	// between the scan above and acquiring this lock.
	elapsed = now.Sub(lastHeartbeat)
	event, ok = registry.EventForElapsed(current, elapsed, intervalSeconds, missUntilInactive)
	if !ok {
		return nil
	}

	next := registry.Transition(current, event)
	if next == current {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET liveness_state = $2, updated_at = $3 WHERE agent_id = $1
	`, c.agentID, next, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.AgentLivenessTransitions.WithLabelValues(string(current), string(next)).Inc()
	if m.cache != nil {
		_ = m.cache.Delete(ctx, cache.LivenessSnapshotKey(c.agentID))
	}
	logger.Liveness().Info().Str("agent_id", c.agentID).Str("from", string(current)).Str("to", string(next)).Msg("liveness transition")
	return nil
}
