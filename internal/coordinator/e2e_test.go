package coordinator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/db"
	"github.com/sentryscan/controller/internal/dispatcher"
	"github.com/sentryscan/controller/internal/ingestor"
	"github.com/sentryscan/controller/internal/liveness"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/registry"
)

type harness struct {
	db          *db.Database
	mock        sqlmock.Sqlmock
	registry    *registry.Registry
	config      *configsvc.Service
	dispatcher  *dispatcher.Dispatcher
	ingestor    *ingestor.Ingestor
	coordinator *Coordinator
	cleanup     func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	database := db.NewDatabaseForTesting(mockDB)

	reg := registry.New(database, nil)
	cfg := configsvc.New(database, nil)
	disp := dispatcher.New(database, cfg, nil)
	ing := ingestor.New(database, cfg, nil)
	coord := New(database, reg, disp)

	return &harness{
		db: database, mock: mock, registry: reg, config: cfg,
		dispatcher: disp, ingestor: ing, coordinator: coord,
		cleanup: func() { mockDB.Close() },
	}
}

func expectAgentLookup(mock sqlmock.Sqlmock, agentID string, authorized bool, tombstoned bool) {
	state := "online"
	var deletedAt interface{}
	if tombstoned {
		state = "tombstoned"
		deletedAt = time.Now()
	}
	mock.ExpectQuery(`SELECT id, agent_id, hostname, os, arch, version, declared_ips, authorized,\s*\n\s*liveness_state, last_heartbeat_wall, last_heartbeat_monotonic_ns,\s*\n\s*config_version_seen, deleted_at, created_at, updated_at\s*\n\s*FROM agents WHERE agent_id = \$1`).
		WithArgs(agentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "agent_id", "hostname", "os", "arch", "version", "declared_ips", "authorized",
			"liveness_state", "last_heartbeat_wall", "last_heartbeat_monotonic_ns",
			"config_version_seen", "deleted_at", "created_at", "updated_at",
		}).AddRow("row-"+agentID, agentID, "host", "linux", "amd64", "1.0", []byte(`[]`), authorized,
			state, time.Now(), int64(0), int64(0), deletedAt, time.Now(), time.Now()))
}

// TestHappyPath creates a scan for a single authorized agent and checks that
// the scan row and its one job are written in a single transaction and that
// the CreateScan response reports one assigned agent.
func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	expectAgentLookup(h.mock, "agent-1", true, false)

	h.mock.ExpectBegin()
	h.mock.ExpectExec(`INSERT INTO scans`).WillReturnResult(sqlmock.NewResult(1, 1))
	h.mock.ExpectExec(`INSERT INTO jobs`).WillReturnResult(sqlmock.NewResult(1, 1))
	h.mock.ExpectExec(`UPDATE scans SET status = 'running'`).WillReturnResult(sqlmock.NewResult(1, 1))
	h.mock.ExpectCommit()

	resp, err := h.coordinator.CreateScan(ctx, models.CreateScanRequest{
		VTOIDs:   []string{"1.3.6.1.4.1.25623.1.0.100315"},
		AgentIDs: []string{"agent-1"},
	})
	if err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}
	if resp.AgentsAssigned != 1 || resp.Status != "running" {
		t.Errorf("unexpected CreateScan response: %+v", resp)
	}

	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestUnauthorizedAgentGetsNoJobs asserts the whole scan is rejected, and no
// job rows are written, when any requested agent is unauthorized.
func TestUnauthorizedAgentGetsNoJobs(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	expectAgentLookup(h.mock, "agent-2", false, false)

	_, err := h.coordinator.CreateScan(ctx, models.CreateScanRequest{
		VTOIDs:   []string{"1.3.6.1.4.1.25623.1.0.100315"},
		AgentIDs: []string{"agent-2"},
	})
	if err == nil {
		t.Fatal("expected CreateScan to reject an unauthorized agent")
	}

	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestLeaseExpiryRedelivery verifies a job whose visibility lease expired
// while still assigned is requeued by the reclaimer rather than lost.
func TestLeaseExpiryRedelivery(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	h.mock.ExpectQuery(`SELECT id FROM jobs WHERE status IN \('assigned', 'running'\) AND deadline_at < \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`SELECT id, scan_id, agent_id, status, attempts, deadline_at`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scan_id", "agent_id", "status", "attempts", "deadline_at"}).
			AddRow("job-1", "scan-1", "agent-1", "assigned", 0, time.Now().Add(-time.Minute)))
	h.mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
			AddRow(int64(1), []byte(`{}`), time.Now()))
	h.mock.ExpectQuery(`SELECT payload FROM agent_config_overrides`).
		WithArgs("agent-1").
		WillReturnError(sql.ErrNoRows)
	h.mock.ExpectExec(`UPDATE jobs SET status = 'queued'`).
		WithArgs("job-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	if err := h.dispatcher.DispatchPendingRequeues(ctx); err != nil {
		t.Fatalf("DispatchPendingRequeues() error = %v", err)
	}

	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPartialScanFailure finalizes two jobs for the same scan, one
// succeeding and one failing, and checks the scan lands in completed once
// both are terminal — the tie-break favors completed whenever at least one
// agent succeeded.
func TestPartialScanFailure(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`SELECT id, scan_id, agent_id, status FROM jobs WHERE id = \$1`).
		WithArgs("job-ok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scan_id", "agent_id", "status"}).
			AddRow("job-ok", "scan-1", "agent-1", "running"))
	h.mock.ExpectExec(`UPDATE jobs SET status = \$1, fail_reason = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`UPDATE scans\s+SET terminal_jobs = terminal_jobs \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_jobs", "terminal_jobs", "succeeded_jobs", "status"}).
			AddRow("scan-1", 2, 1, 1, "running"))
	h.mock.ExpectCommit()

	if err := h.ingestor.Finalize(ctx, "job-ok", "agent-1", "completed", ""); err != nil {
		t.Fatalf("Finalize(job-ok) error = %v", err)
	}

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`SELECT id, scan_id, agent_id, status FROM jobs WHERE id = \$1`).
		WithArgs("job-fail").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scan_id", "agent_id", "status"}).
			AddRow("job-fail", "scan-1", "agent-2", "running"))
	h.mock.ExpectExec(`UPDATE jobs SET status = \$1, fail_reason = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`UPDATE scans\s+SET terminal_jobs = terminal_jobs \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_jobs", "terminal_jobs", "succeeded_jobs", "status"}).
			AddRow("scan-1", 2, 2, 1, "running"))
	h.mock.ExpectExec(`UPDATE scans SET status = \$1, completed_at = \$2 WHERE id = \$3`).
		WithArgs(models.ScanCompleted, sqlmock.AnyArg(), "scan-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	if err := h.ingestor.Finalize(ctx, "job-fail", "agent-2", "failed", "scan engine crashed"); err != nil {
		t.Fatalf("Finalize(job-fail) error = %v", err)
	}

	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestConfigPropagation claims a job while the global config sets a
// 120-second heartbeat interval, checking that Claim reads the effective
// heartbeat policy (global config, then the agent's override) before it
// claims, and returns the one claimed job. The lease length itself is not
// asserted.
func TestConfigPropagation(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	h.mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
			AddRow(int64(2), []byte(`{"heartbeat.interval_in_seconds": 120}`), time.Now()))
	h.mock.ExpectQuery(`SELECT payload FROM agent_config_overrides`).
		WithArgs("agent-1").
		WillReturnError(sql.ErrNoRows)

	now := time.Now()
	h.mock.ExpectQuery(`UPDATE jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scan_id", "agent_id", "status", "attempts", "priority",
			"enqueued_at", "assigned_at", "deadline_at", "config_blob", "fail_reason",
		}).AddRow("job-1", "scan-1", "agent-1", "assigned", 0, 0, now, now, now.Add(240*time.Second), []byte(`{}`), nil))

	jobs, err := h.dispatcher.Claim(ctx, "agent-1", 1)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(jobs))
	}
}

// TestLivenessDemotion drives the liveness monitor's sweep against an
// agent whose heartbeat went silent well past the offline threshold and
// checks it lands in "offline" rather than staying "online".
func TestLivenessDemotion(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()
	ctx := context.Background()

	mon := liveness.NewMonitor(h.db, nil, h.config)

	lastHeartbeat := time.Now().Add(-1 * time.Hour)
	h.mock.ExpectQuery(`SELECT agent_id, liveness_state, last_heartbeat_wall FROM agents`).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id", "liveness_state", "last_heartbeat_wall"}).
			AddRow("agent-1", "online", lastHeartbeat))

	h.mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
			AddRow(int64(1), []byte(`{}`), time.Now()))
	h.mock.ExpectQuery(`SELECT payload FROM agent_config_overrides`).
		WithArgs("agent-1").
		WillReturnError(sql.ErrNoRows)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`SELECT liveness_state, last_heartbeat_wall FROM agents WHERE agent_id = \$1 FOR UPDATE`).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"liveness_state", "last_heartbeat_wall"}).
			AddRow("online", lastHeartbeat))
	h.mock.ExpectExec(`UPDATE agents SET liveness_state = \$2`).
		WithArgs("agent-1", "offline", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	if err := mon.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
