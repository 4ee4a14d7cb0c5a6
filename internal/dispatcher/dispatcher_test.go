package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/db"
)

func setupDispatcherTest(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}

	database := db.NewDatabaseForTesting(mockDB)
	config := configsvc.New(database, nil)
	d := New(database, config, nil)

	cleanup := func() { mockDB.Close() }
	return d, mock, cleanup
}

func TestNew_DefaultWorkerCount(t *testing.T) {
	d, _, cleanup := setupDispatcherTest(t)
	defer cleanup()

	if d.workers != 10 {
		t.Errorf("expected 10 default workers, got %d", d.workers)
	}
	if d.queue == nil {
		t.Error("expected queue channel to be initialized")
	}
}

func TestSetWorkers(t *testing.T) {
	d, _, cleanup := setupDispatcherTest(t)
	defer cleanup()

	d.SetWorkers(20)
	if d.workers != 20 {
		t.Errorf("expected 20 workers, got %d", d.workers)
	}

	d.SetWorkers(0)
	if d.workers != 20 {
		t.Error("expected worker count to remain unchanged for invalid value")
	}

	d.SetWorkers(-5)
	if d.workers != 20 {
		t.Error("expected worker count to remain unchanged for negative value")
	}
}

// TestClaim_SkipsLockedRows exercises the Claim query shape: queued rows
// are returned and flipped to assigned. Concurrent-safety itself comes from
// FOR UPDATE SKIP LOCKED at the database layer, which sqlmock cannot
// simulate directly — this asserts the statement we issue is the one that
// provides that guarantee and that results round-trip into models.Job.
func TestClaim_SkipsLockedRows(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
			AddRow(int64(1), []byte(`{}`), time.Now()))

	now := time.Now()
	mock.ExpectQuery(`UPDATE jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scan_id", "agent_id", "status", "attempts", "priority",
			"enqueued_at", "assigned_at", "deadline_at", "config_blob", "fail_reason",
		}).AddRow("job-1", "scan-1", "agent-1", "assigned", 0, 5, now, now, now.Add(2*time.Minute), []byte(`{}`), nil))

	jobs, err := d.Claim(context.Background(), "agent-1", 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(jobs))
	}
	if jobs[0].ID != "job-1" {
		t.Errorf("expected job-1, got %s", jobs[0].ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestClaim_NoJobsReturnsEmpty covers the common poll-with-nothing-queued
// path agents hit most often.
func TestClaim_NoJobsReturnsEmpty(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
			AddRow(int64(1), []byte(`{}`), time.Now()))

	mock.ExpectQuery(`UPDATE jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scan_id", "agent_id", "status", "attempts", "priority",
			"enqueued_at", "assigned_at", "deadline_at", "config_blob", "fail_reason",
		}))

	jobs, err := d.Claim(context.Background(), "agent-1", 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

// TestConcurrentClaims_NoDuplicateAssignment drives many goroutines through
// Claim concurrently against independent mock expectations, each returning
// a disjoint job id — modeling the guarantee that FOR UPDATE SKIP LOCKED
// gives at the database: no two concurrent claimants ever observe the same
// row. Each goroutine gets its own sqlmock instance since a single mock
// connection serializes expectations and cannot itself exercise real
// row-level locking.
func TestConcurrentClaims_NoDuplicateAssignment(t *testing.T) {
	const n = 20
	seen := make(chan string, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			d, mock, cleanup := setupDispatcherTest(t)
			defer cleanup()

			mock.ExpectQuery(`SELECT version, payload, created_at FROM agent_configs`).
				WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "created_at"}).
					AddRow(int64(1), []byte(`{}`), time.Now()))

			jobID := fmt.Sprintf("job-%d", i)
			now := time.Now()
			mock.ExpectQuery(`UPDATE jobs`).
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "scan_id", "agent_id", "status", "attempts", "priority",
					"enqueued_at", "assigned_at", "deadline_at", "config_blob", "fail_reason",
				}).AddRow(jobID, "scan-1", "agent-1", "assigned", 0, 0, now, now, now.Add(time.Minute), []byte(`{}`), nil))

			jobs, err := d.Claim(context.Background(), "agent-1", 1)
			if err != nil {
				errs <- err
				return
			}
			if len(jobs) == 1 {
				seen <- jobs[0].ID
			}
			errs <- nil
		}(i)
	}

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Claim() error = %v", err)
		}
	}
	close(seen)

	count := 0
	claimed := make(map[string]bool)
	for id := range seen {
		if claimed[id] {
			t.Errorf("job %s was claimed more than once", id)
		}
		claimed[id] = true
		count++
	}
	if count != n {
		t.Errorf("expected %d successful claims across independent mocks, got %d", n, count)
	}
}
