package job

import (
	"testing"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/task"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

type recordingAlertSender struct {
	calls int
	last  []*Job
}

func (r *recordingAlertSender) SendAlerts(jobs []*Job) {
	r.calls++
	r.last = jobs
}

func loadCrontab(t *testing.T, contents string, base *conf.Configuration) *crontab.Crontab {
	t.Helper()
	path := writeTempCrontab(t, contents)
	return crontab.Load(path, base, logx.Nop())
}

func TestManagerUpdateConfigurationAddsAndDrops(t *testing.T) {
	t.Parallel()

	base := conf.Load("", logx.Nop())
	m := NewManager(newTestSupervisor(), logx.Nop(), nil)

	tab := loadCrontab(t, "* * * * * root echo one\n", base)
	m.UpdateConfiguration(base, tab)

	jobs := m.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("len(Jobs()) = %d, want 1", len(jobs))
	}
	firstID := jobs[0].ID

	// Reload with an unrelated row: the old one has no running tasks, so
	// it should be dropped outright rather than retired.
	tab2 := loadCrontab(t, "* * * * * root echo two\n", base)
	m.UpdateConfiguration(base, tab2)

	jobs = m.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("len(Jobs()) after reload = %d, want 1", len(jobs))
	}
	if jobs[0].ID == firstID {
		t.Errorf("expected a new Job identity after the command changed")
	}
	if jobs[0].Command != "echo two" {
		t.Errorf("Command = %q, want 'echo two'", jobs[0].Command)
	}
}

func TestManagerUpdateConfigurationCarriesExistingJobForward(t *testing.T) {
	t.Parallel()

	base := conf.Load("", logx.Nop())
	m := NewManager(newTestSupervisor(), logx.Nop(), nil)

	tab := loadCrontab(t, "* * * * * root echo same\n", base)
	m.UpdateConfiguration(base, tab)
	firstID := m.Jobs()[0].ID

	// Reloading the identical crontab should reuse the same Job, not
	// replace it.
	m.UpdateConfiguration(base, tab)

	jobs := m.Jobs()
	if len(jobs) != 1 || jobs[0].ID != firstID {
		t.Fatalf("expected the existing Job to be carried forward unchanged, got %+v", jobs)
	}
}

func TestManagerTickDispatchesAlertsAfterLaunchLoop(t *testing.T) {
	t.Parallel()

	base := conf.Load("", logx.Nop())
	sender := &recordingAlertSender{}
	m := NewManager(newTestSupervisor(), logx.Nop(), sender)

	tab := loadCrontab(t, "* * * * * root echo hi\n", base)
	m.UpdateConfiguration(base, tab)

	m.Tick(time.Now().UTC())

	if sender.calls != 1 {
		t.Fatalf("SendAlerts called %d times, want 1", sender.calls)
	}
	if len(sender.last) != 1 {
		t.Errorf("SendAlerts received %d jobs, want 1", len(sender.last))
	}
}

// TestManagerTickKeepsRetiredRunningJobReceivingRunCalls verifies that a
// job retired because its row dropped out of the crontab still gets
// Run() every tick, not just Sweep(): it must keep incrementing
// ScheduledRunCount and appending Skipped entries for as long as its old
// schedule matches and a task is still in flight, exactly like a live
// job would (never relaunching, since it's inactive).
func TestManagerTickKeepsRetiredRunningJobReceivingRunCalls(t *testing.T) {
	t.Parallel()

	base := conf.Load("", logx.Nop())
	sender := &recordingAlertSender{}
	m := NewManager(newTestSupervisor(), logx.Nop(), sender)

	tab := loadCrontab(t, "* * * * * root echo hi\n", base)
	m.UpdateConfiguration(base, tab)

	jobs := m.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("len(Jobs()) = %d, want 1", len(jobs))
	}
	retiringJob := jobs[0]

	// Simulate a still-in-flight task without launching a real process: a
	// freshly constructed RunningTask starts with endTime -1 (not done)
	// until something actually calls Run() on it.
	rt := task.New(1, retiringJob.Command, retiringJob.Row.ExecutingUser, -1, task.Config{}, logx.Nop())
	retiringJob.runningTasks = append(retiringJob.runningTasks, rt)
	retiringJob.TaskLog().Append(rt.TaskID, task.StatusStarted, time.Now())

	// Reload with a crontab that no longer has the row at all: it has a
	// running task, so it must be retired rather than dropped outright.
	emptyTab := loadCrontab(t, "# nothing scheduled\n", base)
	m.UpdateConfiguration(base, emptyTab)

	if len(m.Jobs()) != 0 {
		t.Fatalf("len(Jobs()) after reload = %d, want 0 (retired, not live)", len(m.Jobs()))
	}
	if len(m.retired) != 1 || m.retired[0] != retiringJob {
		t.Fatalf("expected the running job to move into m.retired, got %+v", m.retired)
	}

	beforeCount := retiringJob.ScheduledRunCount()

	m.Tick(time.Now().UTC())

	if len(m.retired) != 1 {
		t.Fatalf("retired job should still be present while its task is running, got %d retired", len(m.retired))
	}
	if retiringJob.ScheduledRunCount() != beforeCount+1 {
		t.Errorf("ScheduledRunCount() = %d, want %d after a tick matching the old schedule",
			retiringJob.ScheduledRunCount(), beforeCount+1)
	}

	entries := retiringJob.TaskLog().All()
	if last := entries[len(entries)-1]; last.Status != task.StatusSkipped {
		t.Errorf("last TaskLog entry status = %v, want Skipped (retired jobs never relaunch)", last.Status)
	}

	if sender.calls != 1 {
		t.Fatalf("SendAlerts called %d times, want 1", sender.calls)
	}
	var sawRetired bool
	for _, j := range sender.last {
		if j == retiringJob {
			sawRetired = true
		}
	}
	if !sawRetired {
		t.Errorf("SendAlerts did not receive the retired-but-running job")
	}
}

func TestManagerTickIsolatesJobPanics(t *testing.T) {
	t.Parallel()

	base := conf.Load("", logx.Nop())
	m := NewManager(newTestSupervisor(), logx.Nop(), nil)

	tab := loadCrontab(t, "* * * * * root echo hi\n", base)
	m.UpdateConfiguration(base, tab)

	// Replace the live job's schedule handling isn't exposed, so instead
	// verify Tick itself never panics even across a job whose running
	// tasks list is in an unexpected state.
	jobs := m.Jobs()
	jobs[0].runningTasks = append(jobs[0].runningTasks, nil)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Tick() propagated a panic instead of isolating it: %v", r)
		}
	}()
	m.Tick(time.Now().UTC())
}
