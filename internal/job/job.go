// Package job implements Job and JobManager from spec §4.4/§4.6: the
// per-schedule coordinator that dedups, caps concurrency, launches
// RunningTasks, maintains a bounded task log, and the engine that
// reconciles jobs against a reloaded crontab.
package job

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	"github.com/CBrophy/omicron/internal/task"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

var globalJobID atomic.Int64

// Identity is Job's reconciliation key: (row, configuration) — a changed
// override yields a new Job (spec §3/§4.6).
type Identity struct {
	Row    crontab.RowIdentity
	Config string // conf.Configuration.Fingerprint()
}

// Job encapsulates a schedule + post-substitution command + configuration,
// and owns its running children and bounded task log.
type Job struct {
	ID            int64
	Row           crontab.Row
	Command       string
	Configuration *conf.Configuration

	active            bool
	scheduledRunCount int
	nextExecution     time.Time
	runningTasks      []*task.RunningTask // newest-first

	taskLog *TaskLog
	sup     *supervisor.Supervisor
	log     logx.Logger
}

// New constructs a Job in its active, freshly-scheduled state.
func New(row crontab.Row, command string, configuration *conf.Configuration, sup *supervisor.Supervisor, log logx.Logger) *Job {
	return &Job{
		ID:            globalJobID.Add(1),
		Row:           row,
		Command:       command,
		Configuration: configuration,
		active:        true,
		taskLog:       &TaskLog{},
		sup:           sup,
		log:           log,
	}
}

// Identity returns this Job's reconciliation key.
func (j *Job) Identity() Identity {
	return Identity{Row: j.Row.Identity(), Config: j.Configuration.Fingerprint()}
}

func (j *Job) IsActive() bool         { return j.active }
func (j *Job) SetActive(active bool)  { j.active = active }
func (j *Job) IsRunnable() bool       { return j.Row.Runnable() }
func (j *Job) ScheduledRunCount() int { return j.scheduledRunCount }
func (j *Job) TaskLog() *TaskLog      { return j.taskLog }
func (j *Job) NextExecution() time.Time { return j.nextExecution }

// Sweep removes finished RunningTasks and logs their final status,
// without evaluating the schedule or launching anything. Run performs the
// same sweep first; JobManager drives retired jobs through Run, not Sweep.
func (j *Job) Sweep() { j.sweep() }

// IsRunning reports whether this Job has any RunningTask that hasn't
// finished yet. JobManager consults this to decide whether a removed Job
// must be retired (kept alive for sweep purposes) rather than discarded.
func (j *Job) IsRunning() bool {
	for _, rt := range j.runningTasks {
		if !rt.IsDone() {
			return true
		}
	}
	return false
}

// Run is invoked once per minute by JobManager. It sweeps finished
// RunningTasks into the task log first, then — only if still in
// schedule — evaluates whether to launch a new one. Returns true iff a
// new task was launched this call.
func (j *Job) Run(now time.Time) bool {
	j.sweep()

	nowLocal := now.In(j.Configuration.TimeZone())
	if !j.Row.Schedule.Contains(nowLocal) {
		return false
	}

	j.scheduledRunCount++

	maxInstances := j.Configuration.Int(conf.KeyTaskMaxInstanceCount)
	if !j.active || len(j.runningTasks) >= maxInstances || !j.IsRunnable() {
		j.taskLog.Append(j.scheduledRunCount, task.StatusSkipped, nowLocal)
		j.log.Debug("job skipped",
			logx.Int64("job_id", j.ID),
			logx.Bool("active", j.active),
			logx.Int("running", len(j.runningTasks)),
			logx.Int("max_instances", maxInstances))
		return false
	}

	rt := task.New(
		j.scheduledRunCount,
		j.Command,
		j.Row.ExecutingUser,
		j.Configuration.Int(conf.KeyTaskTimeoutMinutes),
		task.Config{
			SuCommand:   j.Configuration.String(conf.KeyCommandPathSu),
			KillCommand: j.Configuration.String(conf.KeyCommandPathKill),
		},
		j.log,
	)

	j.runningTasks = append([]*task.RunningTask{rt}, j.runningTasks...)
	j.taskLog.Append(rt.TaskID, task.StatusStarted, now)

	j.sup.Go0("task-"+j.Row.ExecutingUser, func(ctx context.Context) {
		rt.Run(ctx)
	})

	j.nextExecution = j.Row.Schedule.NextAfter(nowLocal)
	return true
}

// sweep removes finished RunningTasks and appends their final status to
// the task log. runningTasks is newest-first, so a reverse index walk
// visits finished tasks in chronological (launch) order — matching the
// order their log entries should be appended in.
func (j *Job) sweep() {
	if len(j.runningTasks) == 0 {
		return
	}

	remaining := make([]*task.RunningTask, 0, len(j.runningTasks))
	var finished []*task.RunningTask
	for i := len(j.runningTasks) - 1; i >= 0; i-- {
		rt := j.runningTasks[i]
		if rt.IsDone() {
			finished = append(finished, rt)
		}
	}
	for _, rt := range j.runningTasks {
		if !rt.IsDone() {
			remaining = append(remaining, rt)
		}
	}
	j.runningTasks = remaining

	for _, rt := range finished {
		j.taskLog.Append(rt.TaskID, rt.Status(), time.Unix(0, rt.EndTime()))
	}
}
