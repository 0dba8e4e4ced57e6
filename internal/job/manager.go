package job

import (
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

// AlertSender is the subset of the alert manager that JobManager depends
// on, kept narrow so this package doesn't import internal/alert directly.
type AlertSender interface {
	SendAlerts(jobs []*Job)
}

// JobManager owns the live set of Jobs, reconciling it against a freshly
// loaded crontab + configuration every time the crontab file changes
// (spec §4.6), and driving one Run() per Job per scheduler tick.
type JobManager struct {
	sup *supervisor.Supervisor
	log logx.Logger

	jobs    map[Identity]*Job
	retired []*Job

	alerts AlertSender
}

// NewManager constructs an empty JobManager. Call UpdateConfiguration at
// least once before the first Tick.
func NewManager(sup *supervisor.Supervisor, log logx.Logger, alerts AlertSender) *JobManager {
	return &JobManager{
		sup:    sup,
		log:    log,
		jobs:   map[Identity]*Job{},
		alerts: alerts,
	}
}

// Jobs returns the current set of live (non-retired) jobs, in no
// particular order.
func (m *JobManager) Jobs() []*Job {
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// UpdateConfiguration reconciles the manager's job set against a newly
// loaded crontab. Per spec §4.6, each row is resolved against either its
// per-row override configuration or the base configuration, variable
// substitution is applied to its command, and the resulting (row,
// configuration) identity determines whether the row maps to:
//
//   - a brand-new Job (not present before): created active, scheduled
//     from scratch.
//   - an existing Job (identity unchanged): carried forward as-is,
//     including its task log, running tasks, and scheduledRunCount —
//     and reactivated if it had been sitting in the retired list.
//   - a Job that's no longer present in the new crontab at all: if it
//     has no running tasks it's dropped outright; if it does, it's
//     moved to the retired list (marked inactive) so Tick can keep
//     sweeping it until it drains.
func (m *JobManager) UpdateConfiguration(base *conf.Configuration, tab *crontab.Crontab) {
	next := make(map[Identity]*Job, len(tab.Rows))

	for _, row := range tab.Rows {
		cfg := base
		if override, ok := tab.Overrides[row.LineNumber]; ok {
			cfg = override
		}

		command := crontab.SubstituteAll(row.Command, tab.Variables)

		candidate := Identity{Row: row.Identity(), Config: cfg.Fingerprint()}

		if existing, ok := m.jobs[candidate]; ok {
			existing.SetActive(true)
			next[candidate] = existing
			continue
		}

		if reactivated := m.reactivateRetired(candidate); reactivated != nil {
			next[candidate] = reactivated
			continue
		}

		j := New(row, command, cfg, m.sup, m.log)
		m.log.Info("job added", logx.Int64("job_id", j.ID), logx.String("command", command))
		next[candidate] = j
	}

	for id, existing := range m.jobs {
		if _, stillPresent := next[id]; stillPresent {
			continue
		}
		if existing.IsRunning() {
			existing.SetActive(false)
			m.retired = append(m.retired, existing)
			m.log.Info("job removed from crontab, retiring until drained", logx.Int64("job_id", existing.ID))
		} else {
			m.log.Info("job removed from crontab", logx.Int64("job_id", existing.ID))
		}
	}

	m.jobs = next
}

// reactivateRetired pulls a job matching candidate out of the retired
// list (if present) and returns it, or nil if no match exists.
func (m *JobManager) reactivateRetired(candidate Identity) *Job {
	for i, j := range m.retired {
		if j.Identity() != candidate {
			continue
		}
		m.retired = append(m.retired[:i], m.retired[i+1:]...)
		j.SetActive(true)
		return j
	}
	return nil
}

// Tick runs every live Job once, isolating any panic to the offending
// Job so one bad command can't take down the scheduler loop, then
// retires any drained jobs and finally dispatches alerts for the
// resulting job set.
func (m *JobManager) Tick(now time.Time) {
	for _, j := range m.jobs {
		m.runIsolated(j, now)
	}

	m.retireDrained(now)

	if m.alerts != nil {
		m.alerts.SendAlerts(append(m.Jobs(), m.retired...))
	}
}

func (m *JobManager) runIsolated(j *Job, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("job panicked", logx.Int64("job_id", j.ID), logx.Any("panic", r))
		}
	}()
	j.Run(now)
}

// retireDrained keeps retired jobs receiving the same Run() call active
// jobs get — inactive, so it never launches a new task, but it still
// sweeps finished tasks, evaluates the schedule, and logs a Skipped
// entry (incrementing scheduledRunCount) on every tick the old schedule
// still matches, exactly like an active Job. It then drops any job with
// no running tasks left, walking backwards so removal-by-index is safe.
func (m *JobManager) retireDrained(now time.Time) {
	for i := len(m.retired) - 1; i >= 0; i-- {
		j := m.retired[i]
		j.Run(now)
		if !j.IsRunning() {
			m.log.Info("retired job drained", logx.Int64("job_id", j.ID))
			m.retired = append(m.retired[:i], m.retired[i+1:]...)
		}
	}
}
