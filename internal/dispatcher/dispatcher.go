// Package dispatcher implements the Job Dispatcher: per-agent job queue
// with fair dispatch and at-most-once delivery.
//
// Adapted from the teacher's internal/services.CommandDispatcher worker-pool
// shape (buffered channel + N workers + Start/Stop), but repurposed: the
// teacher's dispatcher pushes commands to a connected WebSocket, while ours
// has no push path (agents only poll), so the worker pool instead drives
// the reclaimer sweep — scanning for jobs whose lease expired and moving
// them back to queued or, past max_attempts, to expired.
package dispatcher

import (
	"context"
	"database/sql"
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

// Dispatcher owns job claim and the background reclaimer sweep.
type Dispatcher struct {
	db        *db.Database
	config    *configsvc.Service
	publisher *events.Publisher

	workers         int
	reclaimInterval time.Duration
	queue           chan string
	stopCh          chan struct{}
	doneCh          chan struct{}
}

// New constructs a Dispatcher.
func New(database *db.Database, config *configsvc.Service, publisher *events.Publisher) *Dispatcher {
	return &Dispatcher{
		db:              database,
		config:          config,
		publisher:       publisher,
		workers:         10,
		reclaimInterval: 15 * time.Second,
		queue:           make(chan string, 1000),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// SetWorkers configures the reclaimer worker pool size. Call before Start.
func (d *Dispatcher) SetWorkers(count int) {
	if count > 0 {
		d.workers = count
	}
}

// EnqueueJob materializes one Job row in the queued state for a scan/agent
// pair and publishes a job.queued event (best-effort).
func (d *Dispatcher) EnqueueJob(ctx context.Context, scanID, agentID string, priority int, configBlob models.JSONMap) (*models.Job, error) {
	job := models.Job{
		ID:         uuid.New().String(),
		ScanID:     scanID,
		AgentID:    agentID,
		Status:     models.JobQueued,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		ConfigBlob: configBlob,
	}

	_, err := d.db.DB().ExecContext(ctx, `
		INSERT INTO jobs (id, scan_id, agent_id, status, attempts, priority, enqueued_at, config_blob)
		VALUES ($1, $2, $3, 'queued', 0, $4, $5, $6)
	`, job.ID, job.ScanID, job.AgentID, job.Priority, job.EnqueuedAt, job.ConfigBlob)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if d.publisher != nil {
		_ = d.publisher.PublishJobQueued(ctx, events.JobQueuedEvent{JobID: job.ID, ScanID: scanID, AgentID: agentID})
	}
	return &job, nil
}

// Claim atomically assigns up to limit queued jobs for agentID, setting
// their deadline to now + visibility timeout (2x heartbeat interval, spec
// §4.3). A single statement with FOR UPDATE SKIP LOCKED guarantees no two
// concurrent polls ever receive the same job.
func (d *Dispatcher) Claim(ctx context.Context, agentID string, limit int) ([]models.Job, error) {
	intervalSeconds, _ := d.config.EffectiveHeartbeatPolicy(ctx, agentID)
	visibilityTimeout := time.Duration(2*intervalSeconds) * time.Second
	deadline := time.Now().Add(visibilityTimeout)

	rows, err := d.db.DB().QueryContext(ctx, `
		UPDATE jobs
		SET status = 'assigned', assigned_at = $1, deadline_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE agent_id = $3 AND status = 'queued'
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, scan_id, agent_id, status, attempts, priority, enqueued_at, assigned_at, deadline_at, config_blob, fail_reason
	`, time.Now(), deadline, agentID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.ScanID, &j.AgentID, &j.Status, &j.Attempts, &j.Priority,
			&j.EnqueuedAt, &j.AssignedAt, &j.DeadlineAt, &j.ConfigBlob, &j.FailReason); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		jobs = append(jobs, j)
	}

	metrics.JobsClaimedTotal.Add(float64(len(jobs)))
	return jobs, nil
}

// Start runs the reclaimer sweep loop until ctx is canceled or Stop is
// called. Meant to be run in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	log := logger.Dispatcher()
	log.Info().Int("workers", d.workers).Dur("interval", d.reclaimInterval).Msg("dispatcher reclaimer started")

	jobsCh := make(chan string, 1000)
	for i := 0; i < d.workers; i++ {
		go d.reclaimWorker(ctx, i, jobsCh)
	}

	ticker := time.NewTicker(d.reclaimInterval)
	defer ticker.Stop()
	defer close(d.doneCh)

	for {
		select {
		case <-ticker.C:
			d.scanExpired(ctx, jobsCh)
		case <-d.stopCh:
			log.Info().Msg("dispatcher reclaimer stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("dispatcher reclaimer stopped (context canceled)")
			return
		}
	}
}

// Stop signals the reclaimer loop to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// DispatchPendingRequeues runs one reclaim pass synchronously — the direct
// analogue of the teacher's DispatchPendingCommands, invoked once at
// startup to recover any jobs whose lease expired while the process was
// down.
func (d *Dispatcher) DispatchPendingRequeues(ctx context.Context) error {
	rows, err := d.db.DB().QueryContext(ctx, `
		SELECT id FROM jobs WHERE status IN ('assigned', 'running') AND deadline_at < $1
	`, time.Now())
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	var jobIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperrors.DatabaseError(err)
		}
		jobIDs = append(jobIDs, id)
	}
	rows.Close()

	for _, id := range jobIDs {
		d.reclaimOne(ctx, id)
	}
	if len(jobIDs) > 0 {
		logger.Dispatcher().Info().Int("count", len(jobIDs)).Msg("reclaimed expired jobs on startup")
	}
	return nil
}

func (d *Dispatcher) scanExpired(ctx context.Context, jobsCh chan<- string) {
	rows, err := d.db.DB().QueryContext(ctx, `
		SELECT id FROM jobs WHERE status IN ('assigned', 'running') AND deadline_at < $1
	`, time.Now())
	if err != nil {
		logger.Dispatcher().Error().Err(err).Msg("failed to scan for expired jobs")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		select {
		case jobsCh <- id:
		default:
			logger.Dispatcher().Warn().Str("job_id", id).Msg("reclaim queue full, will retry next sweep")
		}
	}
}

func (d *Dispatcher) reclaimWorker(ctx context.Context, workerID int, jobsCh <-chan string) {
	for {
		select {
		case jobID := <-jobsCh:
			d.reclaimOne(ctx, jobID)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reclaimOne bumps attempts for one job under a row lock and either
// requeues it or, past max_attempts, marks it expired.
func (d *Dispatcher) reclaimOne(ctx context.Context, jobID string) {
	tx, err := d.db.DB().BeginTx(ctx, nil)
	if err != nil {
		logger.Dispatcher().Error().Err(err).Str("job_id", jobID).Msg("failed to begin reclaim transaction")
		return
	}
	defer tx.Rollback()

	var job models.Job
	err = tx.QueryRowContext(ctx, `
		SELECT id, scan_id, agent_id, status, attempts, deadline_at
		FROM jobs WHERE id = $1 FOR UPDATE
	`, jobID).Scan(&job.ID, &job.ScanID, &job.AgentID, &job.Status, &job.Attempts, &job.DeadlineAt)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		logger.Dispatcher().Error().Err(err).Str("job_id", jobID).Msg("failed to lock job for reclaim")
		return
	}

	if job.Status.IsTerminal() || job.DeadlineAt == nil || job.DeadlineAt.After(time.Now()) {
		// Already finalized or no longer expired (e.g. a late ack landed
		// first) — nothing to do.
		return
	}

	maxAttempts, _, _ := d.config.EffectiveRetryPolicy(ctx, job.AgentID)
	attempts := job.Attempts + 1

	if attempts >= maxAttempts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'expired', attempts = $2, fail_reason = $3 WHERE id = $1
		`, jobID, attempts, "exceeded max retry attempts"); err != nil {
			logger.Dispatcher().Error().Err(err).Str("job_id", jobID).Msg("failed to expire job")
			return
		}
		if err := tx.Commit(); err != nil {
			return
		}
		metrics.JobsExpiredTotal.Inc()
		if d.publisher != nil {
			_ = d.publisher.PublishJobExpired(ctx, events.JobExpiredEvent{JobID: jobID, ScanID: job.ScanID, AgentID: job.AgentID})
		}
		logger.Dispatcher().Warn().Str("job_id", jobID).Int("attempts", attempts).Msg("job expired")
		return
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', attempts = $2, assigned_at = NULL, deadline_at = NULL WHERE id = $1
	`, jobID, attempts); err != nil {
		logger.Dispatcher().Error().Err(err).Str("job_id", jobID).Msg("failed to requeue job")
		return
	}
	if err := tx.Commit(); err != nil {
		return
	}

	if d.publisher != nil {
		_ = d.publisher.PublishJobReclaimed(ctx, events.JobReclaimedEvent{JobID: jobID, ScanID: job.ScanID, AgentID: job.AgentID, Attempts: attempts})
	}
	logger.Dispatcher().Info().Str("job_id", jobID).Int("attempts", attempts).Msg("job lease expired, requeued")
}
