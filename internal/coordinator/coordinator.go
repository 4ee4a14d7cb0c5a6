// Package coordinator implements the Scan Coordinator: decomposes scans
// into per-agent jobs, tracks aggregate progress, and assembles results.
// The Coordinator holds no in-process state — every counter it reports
// lives in the scans/jobs tables, so a restarted process is fully
// reconstructible from Postgres alone (spec §4.2, §5).
package coordinator

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/sentryscan/controller/internal/db"
	"github.com/sentryscan/controller/internal/dispatcher"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/registry"
)

// Coordinator owns scan creation, status/result queries, and cancellation.
type Coordinator struct {
	db         *db.Database
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
}

// New constructs a Coordinator.
func New(database *db.Database, reg *registry.Registry, disp *dispatcher.Dispatcher) *Coordinator {
	return &Coordinator{db: database, registry: reg, dispatcher: disp}
}

// CreateScan validates the requested agent set and materializes one job
// per target agent atomically: either every job is created and the scan
// is queued, or none are and the request fails. An unknown, unauthorized,
// or tombstoned agent in the set rejects the whole scan (spec §4.2) rather
// than silently dropping that agent's job.
func (c *Coordinator) CreateScan(ctx context.Context, req models.CreateScanRequest) (*models.CreateScanResponse, error) {
	agents := make([]models.Agent, 0, len(req.AgentIDs))
	for _, agentID := range req.AgentIDs {
		agent, err := c.registry.Get(ctx, agentID)
		if err != nil {
			return nil, apperrors.ValidationError("invalid agent in scan request", []string{
				"agent " + agentID + " is not known to the controller",
			})
		}
		if agent.IsTombstoned() {
			return nil, apperrors.ValidationError("invalid agent in scan request", []string{
				"agent " + agentID + " has been deregistered",
			})
		}
		if !agent.Authorized {
			return nil, apperrors.ValidationError("invalid agent in scan request", []string{
				"agent " + agentID + " is not authorized",
			})
		}
		agents = append(agents, *agent)
	}

	tx, err := c.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	scanID := uuid.New().String()
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, vt_oids, scanner_prefs, targets, agent_ids, status, total_jobs, terminal_jobs, succeeded_jobs, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, 0, $7)
	`, scanID, models.StringSlice(req.VTOIDs), models.JSONMap(req.ScannerPrefs), models.JSONMap(req.Targets),
		models.StringSlice(req.AgentIDs), len(agents), now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	for _, agent := range agents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, scan_id, agent_id, status, attempts, priority, enqueued_at, config_blob)
			VALUES ($1, $2, $3, 'queued', 0, 0, $4, $5)
		`, uuid.New().String(), scanID, agent.AgentID, now, models.JSONMap(req.Targets))
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE scans SET status = 'running', started_at = $1 WHERE id = $2`, now, scanID); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	logger.Coordinator().Info().Str("scan_id", scanID).Int("agents", len(agents)).Msg("scan created")
	return &models.CreateScanResponse{ScanID: scanID, Status: "running", AgentsAssigned: len(agents)}, nil
}

// GetStatus returns the current progress rollup for a scan, computed
// entirely from stored counters — no cached or in-memory state.
func (c *Coordinator) GetStatus(ctx context.Context, scanID string) (*models.ScanStatusResponse, error) {
	var scan models.Scan
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT id, status, total_jobs, terminal_jobs, succeeded_jobs FROM scans WHERE id = $1
	`, scanID).Scan(&scan.ID, &scan.Status, &scan.TotalJobs, &scan.TerminalJobs, &scan.SucceededJobs)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("scan")
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	rollup, err := c.agentRollup(ctx, scanID)
	if err != nil {
		return nil, err
	}

	return &models.ScanStatusResponse{
		ScanID:          scan.ID,
		Status:          scan.Status,
		Progress:        scan.Progress(),
		AgentsTotal:     scan.TotalJobs,
		AgentsCompleted: scan.SucceededJobs,
		AgentsFailed:    scan.TerminalJobs - scan.SucceededJobs,
		Rollup:          rollup,
	}, nil
}

func (c *Coordinator) agentRollup(ctx context.Context, scanID string) (models.AgentRollup, error) {
	var rollup models.AgentRollup
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT status, COUNT(*) FROM jobs WHERE scan_id = $1 GROUP BY status
	`, scanID)
	if err != nil {
		return rollup, apperrors.DatabaseError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return rollup, apperrors.DatabaseError(err)
		}
		rollup.Total += count
		switch models.JobStatus(status) {
		case models.JobRunning, models.JobAssigned:
			rollup.Running += count
		case models.JobCompleted:
			rollup.Completed += count
		case models.JobFailed, models.JobExpired:
			rollup.Failed += count
		}
	}
	return rollup, nil
}

// GetResults returns every result recorded for a scan.
func (c *Coordinator) GetResults(ctx context.Context, scanID string) (*models.ResultsResponse, error) {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT id, scan_id, agent_id, job_id, nvt_oid, host, port, severity, threat, description, qod, batch_sequence, item_index, submitted_at
		FROM results WHERE scan_id = $1 ORDER BY submitted_at ASC
	`, scanID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var r models.Result
		if err := rows.Scan(&r.ID, &r.ScanID, &r.AgentID, &r.JobID, &r.NVTOID, &r.Host, &r.Port,
			&r.Severity, &r.Threat, &r.Description, &r.QOD, &r.BatchSequence, &r.ItemIndex, &r.SubmittedAt); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		results = append(results, r)
	}

	return &models.ResultsResponse{Results: results, Total: len(results)}, nil
}

// CancelScan moves a non-terminal scan and its open jobs to canceled.
func (c *Coordinator) CancelScan(ctx context.Context, scanID string) error {
	tx, err := c.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	var status models.ScanStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = $1 FOR UPDATE`, scanID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.NotFound("scan")
		}
		return apperrors.DatabaseError(err)
	}
	if status == models.ScanCompleted || status == models.ScanFailed || status == models.ScanCanceled {
		return apperrors.Conflict("scan is already terminal")
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE scans SET status = 'canceled', completed_at = $1 WHERE id = $2`, now, scanID); err != nil {
		return apperrors.DatabaseError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'canceled' WHERE scan_id = $1 AND status IN ('queued', 'assigned', 'running')
	`, scanID); err != nil {
		return apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError(err)
	}

	logger.Coordinator().Info().Str("scan_id", scanID).Msg("scan canceled")
	return nil
}

// Resync recomputes total_jobs/terminal_jobs/succeeded_jobs for every
// non-terminal scan directly from the jobs table. Called once at startup:
// since the Coordinator keeps no in-process counters, any drift that could
// only arise from an aborted write is self-healing on the next restart
// (spec §4.2, "Coordinator is stateless across process restarts").
func (c *Coordinator) Resync(ctx context.Context) error {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT id FROM scans WHERE status IN ('queued', 'running')
	`)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	var scanIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperrors.DatabaseError(err)
		}
		scanIDs = append(scanIDs, id)
	}
	rows.Close()

	for _, scanID := range scanIDs {
		if err := c.resyncOne(ctx, scanID); err != nil {
			return err
		}
	}
	if len(scanIDs) > 0 {
		logger.Coordinator().Info().Int("count", len(scanIDs)).Msg("resynced scan counters from jobs table")
	}
	return nil
}

func (c *Coordinator) resyncOne(ctx context.Context, scanID string) error {
	var total, terminal, succeeded int
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('completed', 'failed', 'expired', 'canceled')),
		       COUNT(*) FILTER (WHERE status = 'completed')
		FROM jobs WHERE scan_id = $1
	`, scanID).Scan(&total, &terminal, &succeeded)
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	newStatus := models.ScanRunning
	var completedAt interface{}
	if total > 0 && terminal >= total {
		if succeeded > 0 {
			newStatus = models.ScanCompleted
		} else {
			newStatus = models.ScanFailed
		}
		completedAt = time.Now()
	}

	_, err = c.db.DB().ExecContext(ctx, `
		UPDATE scans SET total_jobs = $1, terminal_jobs = $2, succeeded_jobs = $3, status = $4, completed_at = COALESCE(completed_at, $5)
		WHERE id = $6
	`, total, terminal, succeeded, newStatus, completedAt, scanID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}
