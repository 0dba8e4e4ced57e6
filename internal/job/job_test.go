package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	"github.com/CBrophy/omicron/internal/task"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

func writeTempCrontab(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crontab")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func loadSingleRow(t *testing.T, expr string) crontab.Row {
	t.Helper()
	path := writeTempCrontab(t, expr+"\n")
	base := conf.Load("", logx.Nop())
	ct := crontab.Load(path, base, logx.Nop())
	if len(ct.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(ct.Rows))
	}
	return ct.Rows[0]
}

func newTestSupervisor() *supervisor.Supervisor {
	return supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
}

func TestJobRunOutsideScheduleReturnsFalse(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "0 0 1 1 * root echo hi") // only fires Jan 1st at midnight
	cfg := conf.Load("", logx.Nop())
	j := New(row, row.Command, cfg, newTestSupervisor(), logx.Nop())

	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	if j.Run(now) {
		t.Fatalf("Run() = true outside schedule window")
	}
	if j.ScheduledRunCount() != 0 {
		t.Errorf("ScheduledRunCount() = %d, want 0 when schedule didn't match", j.ScheduledRunCount())
	}
}

func TestJobRunSkippedWhenInactive(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "* * * * * root echo hi")
	cfg := conf.Load("", logx.Nop())
	j := New(row, row.Command, cfg, newTestSupervisor(), logx.Nop())
	j.SetActive(false)

	now := time.Now().UTC()
	if j.Run(now) {
		t.Fatalf("Run() = true for an inactive job")
	}

	entries := j.TaskLog().All()
	if len(entries) != 1 || entries[0].Status != task.StatusSkipped {
		t.Fatalf("TaskLog() = %+v, want a single Skipped entry", entries)
	}
	if j.ScheduledRunCount() != 1 {
		t.Errorf("ScheduledRunCount() = %d, want 1", j.ScheduledRunCount())
	}
}

func TestJobRunSkippedAtMaxInstances(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "* * * * * root echo hi")
	cfg := conf.Load("", logx.Nop()).WithOverrides(map[conf.Key]string{
		conf.KeyTaskMaxInstanceCount: "0",
	})
	j := New(row, row.Command, cfg, newTestSupervisor(), logx.Nop())

	now := time.Now().UTC()
	if j.Run(now) {
		t.Fatalf("Run() = true with max instance count 0")
	}

	entries := j.TaskLog().All()
	if len(entries) != 1 || entries[0].Status != task.StatusSkipped {
		t.Fatalf("TaskLog() = %+v, want a single Skipped entry", entries)
	}
}

func TestJobRunSkippedWhenMalformed(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "* * * root echo hi") // missing two schedule fields
	if !row.Malformed {
		t.Fatalf("expected row to be malformed")
	}

	cfg := conf.Load("", logx.Nop())
	j := New(row, row.Command, cfg, newTestSupervisor(), logx.Nop())

	if j.IsRunnable() {
		t.Fatalf("IsRunnable() = true for a malformed row")
	}
}

func TestJobIdentityChangesWithConfiguration(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "* * * * * root echo hi")
	a := conf.Load("", logx.Nop())
	b := a.WithOverrides(map[conf.Key]string{conf.KeyTaskMaxInstanceCount: "5"})

	jobA := New(row, row.Command, a, newTestSupervisor(), logx.Nop())
	jobB := New(row, row.Command, b, newTestSupervisor(), logx.Nop())

	if jobA.Identity() == jobB.Identity() {
		t.Errorf("Identity() matched across differing configurations")
	}
}

func TestJobSweepDrainsFinishedTasksWithoutRelaunching(t *testing.T) {
	t.Parallel()

	row := loadSingleRow(t, "* * * * * root echo hi")
	cfg := conf.Load("", logx.Nop())
	j := New(row, row.Command, cfg, newTestSupervisor(), logx.Nop())

	now := time.Now().UTC()
	if !j.Run(now) {
		t.Fatalf("Run() = false, want a launch on first call")
	}

	deadline := time.Now().Add(2 * time.Second)
	for j.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if j.IsRunning() {
		t.Fatalf("task still running after deadline (not running as root should fail fast)")
	}

	j.Sweep()

	entries := j.TaskLog().All()
	if len(entries) < 2 {
		t.Fatalf("TaskLog() = %+v, want Started and a terminal entry", entries)
	}
	if entries[0].Status != task.StatusStarted {
		t.Errorf("first entry status = %v, want Started", entries[0].Status)
	}
}
