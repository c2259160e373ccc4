package history

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestScanRunLifecycle(t *testing.T) {
	db := testDB(t)
	started := time.Now().Add(-time.Minute)

	run, err := db.CreateScanRun("sda", "sess-1", 1000, started)
	if err != nil {
		t.Fatalf("CreateScanRun failed: %v", err)
	}
	if run.Status != "running" {
		t.Errorf("status = %s, want running", run.Status)
	}
	if run.TotalUnits != 1000 {
		t.Errorf("totalUnits = %d, want 1000", run.TotalUnits)
	}

	if err := db.UpdateScanRunProgress("sess-1", 500, 3); err != nil {
		t.Fatalf("UpdateScanRunProgress failed: %v", err)
	}

	errMsg := "device went away"
	if err := db.CompleteScanRun("sess-1", "failed", 500, 3, &errMsg); err != nil {
		t.Fatalf("CompleteScanRun failed: %v", err)
	}

	got, err := db.GetScanRunBySession("sess-1")
	if err != nil {
		t.Fatalf("GetScanRunBySession failed: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ScannedUnits != 500 || got.BadUnits != 3 {
		t.Errorf("counters = %d/%d, want 500/3", got.ScannedUnits, got.BadUnits)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != errMsg {
		t.Errorf("errorMessage = %v, want %q", got.ErrorMessage, errMsg)
	}
}

func TestListScanRunsFiltersAndOrders(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)

	for i, drive := range []string{"sda", "sdb", "sda"} {
		_, err := db.CreateScanRun(drive, "sess-"+string(rune('a'+i)), 10, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("CreateScanRun #%d failed: %v", i, err)
		}
	}

	all, err := db.ListScanRuns("", 10, 0)
	if err != nil {
		t.Fatalf("ListScanRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d runs, want 3", len(all))
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Error("runs not ordered newest first")
	}

	onlySda, err := db.ListScanRuns("sda", 10, 0)
	if err != nil {
		t.Fatalf("ListScanRuns(sda) failed: %v", err)
	}
	if len(onlySda) != 2 {
		t.Errorf("listed %d sda runs, want 2", len(onlySda))
	}

	page, err := db.ListScanRuns("", 1, 1)
	if err != nil {
		t.Fatalf("paginated list failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("page has %d runs, want 1", len(page))
	}
}

func TestCleanupOldData(t *testing.T) {
	db := testDB(t)

	if _, err := db.CreateScanRun("sda", "old", 10, time.Now().AddDate(0, 0, -40)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateScanRun("sda", "new", 10, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := db.CleanupOldData(30); err != nil {
		t.Fatalf("CleanupOldData failed: %v", err)
	}

	runs, err := db.ListScanRuns("", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].SessionID != "new" {
		t.Errorf("cleanup kept %d runs, want only the recent one", len(runs))
	}
}

func TestScheduledJobQueries(t *testing.T) {
	db := testDB(t)
	next := time.Now().Add(-time.Minute)

	job, err := db.CreateScheduledJob(&ScheduledJob{
		Name:           "nightly sda",
		Drive:          "sda",
		CronExpression: "0 2 * * *",
		Enabled:        true,
		NextRunAt:      &next,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	future := time.Now().Add(time.Hour)
	if _, err := db.CreateScheduledJob(&ScheduledJob{
		Name:           "later sdb",
		Drive:          "sdb",
		CronExpression: "0 3 * * *",
		Enabled:        true,
		NextRunAt:      &future,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateScheduledJob(&ScheduledJob{
		Name:           "disabled",
		Drive:          "sdc",
		CronExpression: "* * * * *",
		Enabled:        false,
		NextRunAt:      &next,
	}); err != nil {
		t.Fatal(err)
	}

	due, err := db.ListDueJobs(time.Now())
	if err != nil {
		t.Fatalf("ListDueJobs failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != job.ID {
		t.Fatalf("due jobs = %d, want only %q", len(due), job.Name)
	}

	// Record a run; the job should no longer be due.
	if err := db.UpdateJobRun(job.ID, time.Now(), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("UpdateJobRun failed: %v", err)
	}
	due, err = db.ListDueJobs(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("due jobs after UpdateJobRun = %d, want 0", len(due))
	}

	got, err := db.GetScheduledJob(job.ID)
	if err != nil {
		t.Fatalf("GetScheduledJob failed: %v", err)
	}
	if got.LastRunAt == nil {
		t.Error("lastRunAt not set after UpdateJobRun")
	}

	if err := db.DeleteScheduledJob(job.ID); err != nil {
		t.Fatalf("DeleteScheduledJob failed: %v", err)
	}
	jobs, err := db.ListScheduledJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("jobs after delete = %d, want 2", len(jobs))
	}
}
