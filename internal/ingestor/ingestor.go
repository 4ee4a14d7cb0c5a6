// Package ingestor implements the Result Ingestor: validates and persists
// batches of findings an agent submits against a claimed job, then advances
// the owning job and scan counters atomically.
package ingestor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/db"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/events"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/metrics"
	"github.com/sentryscan/controller/internal/models"
)

// Ingestor owns result submission and job/scan finalization.
type Ingestor struct {
	db        *db.Database
	config    *configsvc.Service
	publisher *events.Publisher
}

// New constructs an Ingestor.
func New(database *db.Database, config *configsvc.Service, publisher *events.Publisher) *Ingestor {
	return &Ingestor{db: database, config: config, publisher: publisher}
}

// validateBatch enforces the result schema beyond what request binding
// already checked: threat must be one of the enumerated labels.
func validateBatch(inputs []models.ResultInput) error {
	var details []string
	for i, in := range inputs {
		if !models.ValidThreats[models.Threat(in.Threat)] {
			details = append(details, fmt.Sprintf("results[%d].threat: invalid threat label %q", i, in.Threat))
		}
	}
	if len(details) > 0 {
		return apperrors.ValidationError("invalid result batch", details)
	}
	return nil
}

// Submit persists one batch of findings against a job the submitting agent
// currently owns. Validation order: structural binding happens at the
// handler layer before Submit is called; here we check (1) format — threat
// enumeration — then (2) state — the job exists, belongs to agentID, and is
// in an open status — before touching storage, all inside one transaction
// so a batch is never partially applied.
//
// batchSequence is supplied by the agent, not derived from existing rows:
// a retried POST (dropped response, agent resend) carries the same
// batchSequence as the original, so each finding's (job_id, batch_sequence,
// item index) dedup key collides with what's already stored and the INSERT
// becomes a no-op instead of a duplicate.
func (ig *Ingestor) Submit(ctx context.Context, jobID, agentID string, batchSequence int64, inputs []models.ResultInput) error {
	if err := validateBatch(inputs); err != nil {
		return err
	}

	tx, err := ig.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	var job models.Job
	err = tx.QueryRowContext(ctx, `
		SELECT id, scan_id, agent_id, status, deadline_at FROM jobs WHERE id = $1 FOR UPDATE
	`, jobID).Scan(&job.ID, &job.ScanID, &job.AgentID, &job.Status, &job.DeadlineAt)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("job")
	}
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	if job.AgentID != agentID {
		return apperrors.Forbidden("job is not assigned to this agent")
	}
	if job.Status != models.JobAssigned && job.Status != models.JobRunning {
		return apperrors.Conflict(fmt.Sprintf("job is not open for results (status: %s)", job.Status))
	}

	now := time.Now()

	for i, in := range inputs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO results (id, scan_id, agent_id, job_id, nvt_oid, host, port, severity, threat, description, qod, batch_sequence, item_index, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (job_id, batch_sequence, item_index) DO NOTHING
		`, uuid.New().String(), job.ScanID, agentID, jobID, in.NVTOID, in.Host, in.Port,
			in.Severity, in.Threat, in.Description, in.QOD, batchSequence, i, now)
		if err != nil {
			return apperrors.DatabaseError(err)
		}
	}

	if job.Status == models.JobAssigned {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running' WHERE id = $1`, jobID); err != nil {
			return apperrors.DatabaseError(err)
		}
	}

	intervalSeconds, _ := ig.config.EffectiveHeartbeatPolicy(ctx, agentID)
	newDeadline := now.Add(time.Duration(2*intervalSeconds) * time.Second)
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET deadline_at = $1 WHERE id = $2`, newDeadline, jobID); err != nil {
		return apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError(err)
	}

	logger.Ingestor().Info().Str("job_id", jobID).Str("agent_id", agentID).Int("count", len(inputs)).Msg("results ingested")
	return nil
}

// Finalize marks a job completed or failed and advances its scan's
// aggregate counters atomically. Idempotent: calling Finalize twice on an
// already-terminal job is a no-op that returns AlreadyFinalized, per the
// at-most-once delivery guarantee — an agent that retries a duplicate
// completion POST after a dropped response must not double-count the scan.
func (ig *Ingestor) Finalize(ctx context.Context, jobID, agentID, outcome, failReason string) error {
	tx, err := ig.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	var job models.Job
	err = tx.QueryRowContext(ctx, `
		SELECT id, scan_id, agent_id, status FROM jobs WHERE id = $1 FOR UPDATE
	`, jobID).Scan(&job.ID, &job.ScanID, &job.AgentID, &job.Status)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("job")
	}
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	if job.AgentID != agentID {
		return apperrors.Forbidden("job is not assigned to this agent")
	}
	if job.Status.IsTerminal() {
		return apperrors.AlreadyFinalized()
	}

	newStatus := models.JobCompleted
	if outcome == "failed" {
		newStatus = models.JobFailed
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, fail_reason = $2 WHERE id = $3`, newStatus, nullableString(failReason), jobID); err != nil {
		return apperrors.DatabaseError(err)
	}

	succeededDelta := 0
	if newStatus == models.JobCompleted {
		succeededDelta = 1
	}

	var scan models.Scan
	err = tx.QueryRowContext(ctx, `
		UPDATE scans
		SET terminal_jobs = terminal_jobs + 1,
		    succeeded_jobs = succeeded_jobs + $1
		WHERE id = $2
		RETURNING id, total_jobs, terminal_jobs, succeeded_jobs, status
	`, succeededDelta, job.ScanID).Scan(&scan.ID, &scan.TotalJobs, &scan.TerminalJobs, &scan.SucceededJobs, &scan.Status)
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	scanTerminal := false
	if scan.TerminalJobs >= scan.TotalJobs {
		scanTerminal = true
		finalStatus := models.ScanFailed
		if scan.SucceededJobs > 0 {
			finalStatus = models.ScanCompleted
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE scans SET status = $1, completed_at = $2 WHERE id = $3
		`, finalStatus, time.Now(), scan.ID); err != nil {
			return apperrors.DatabaseError(err)
		}
		scan.Status = finalStatus
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError(err)
	}

	if scanTerminal {
		metrics.ScansCompletedTotal.Inc()
		if ig.publisher != nil {
			_ = ig.publisher.PublishScanCompleted(ctx, events.ScanCompletedEvent{ScanID: scan.ID, Status: string(scan.Status)})
		}
	}

	logger.Ingestor().Info().Str("job_id", jobID).Str("outcome", outcome).Bool("scan_terminal", scanTerminal).Msg("job finalized")
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
