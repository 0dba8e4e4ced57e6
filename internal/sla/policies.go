package sla

import (
	"fmt"
	"sync"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/job"
	"github.com/CBrophy/omicron/internal/task"
)

// timeSinceSuccessStatuses is the set of task log statuses that carry
// useful signal for TimeSinceLastSuccess; Skipped entries are noise for
// this policy's purposes and are ignored. Matches the authoritative
// STATUS_FILTER exactly: Killed is deliberately excluded, since a killed
// task is folded into the same "no successful run yet" baseline as the
// FailedStart/Error/Started cases rather than treated as its own signal.
var timeSinceSuccessStatuses = map[task.Status]bool{
	task.StatusComplete:    true,
	task.StatusError:       true,
	task.StatusFailedStart: true,
	task.StatusStarted:     true,
}

// TimeSinceLastSuccess alerts when a Job hasn't logged a Complete status
// within its configured threshold window. It tracks, per job, the most
// recent log entry at the time it last alerted a Failure and suppresses
// repeating that alert until a newer task log entry arrives — otherwise a
// job with no new task log activity would re-fire every time the generic
// Evaluator's repeat-delay window elapses, even though nothing about the
// job actually changed.
type TimeSinceLastSuccess struct {
	mu      sync.Mutex
	alerted map[int64]int64 // job ID -> EntryID of the most recent entry when last alerted
}

// NewTimeSinceLastSuccess constructs a TimeSinceLastSuccess with an empty
// alert history.
func NewTimeSinceLastSuccess() *TimeSinceLastSuccess {
	return &TimeSinceLastSuccess{alerted: map[int64]int64{}}
}

func (*TimeSinceLastSuccess) Name() string { return "Time_Since_Success" }

func (*TimeSinceLastSuccess) Disabled(j *job.Job) bool {
	return j.Configuration.Int(conf.KeySLAMinutesSinceSuccess) == -1
}

func (p *TimeSinceLastSuccess) Generate(j *job.Job, now time.Time) Alert {
	if !j.IsRunnable() || !j.IsActive() {
		return Alert{JobID: j.ID, Job: j, Policy: p.Name(), Status: NotApplicable}
	}

	entries := j.TaskLog().Filter(timeSinceSuccessStatuses)
	if len(entries) == 0 {
		return Alert{JobID: j.ID, Job: j, Policy: p.Name(), Status: NotApplicable}
	}

	last := entries[len(entries)-1]
	if last.Status == task.StatusComplete {
		p.clearAlerted(j.ID)
		return p.result(j, last, now, Success)
	}

	var latestComplete *job.TaskLogEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == task.StatusComplete {
			e := entries[i]
			latestComplete = &e
			break
		}
	}

	if last.Status == task.StatusStarted && latestComplete != nil {
		return Alert{JobID: j.ID, Job: j, Policy: p.Name(), Status: NotApplicable}
	}

	baseline := entries[0]
	if latestComplete != nil {
		baseline = *latestComplete
	}

	threshold := time.Duration(j.Configuration.Int(conf.KeySLAMinutesSinceSuccess)) * time.Minute
	elapsed := now.Sub(baseline.Timestamp)

	if elapsed <= threshold {
		p.clearAlerted(j.ID)
		return p.result(j, baseline, now, Success)
	}

	if !p.markAlerted(j.ID, last.EntryID) {
		return Alert{JobID: j.ID, Job: j, Policy: p.Name(), Status: NotApplicable}
	}
	return p.result(j, baseline, now, Failure)
}

// markAlerted records that a Failure alert is about to be emitted while
// entryID is the job's most recent log entry and reports whether that's
// new information — false if a Failure was already emitted at this same
// entry and no newer entry has been logged since.
func (p *TimeSinceLastSuccess) markAlerted(jobID, entryID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if already, ok := p.alerted[jobID]; ok && already == entryID {
		return false
	}
	p.alerted[jobID] = entryID
	return true
}

func (p *TimeSinceLastSuccess) clearAlerted(jobID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alerted, jobID)
}

func (p *TimeSinceLastSuccess) result(j *job.Job, baseline job.TaskLogEntry, now time.Time, status Status) Alert {
	minutesAgo := int(now.Sub(baseline.Timestamp).Minutes())
	threshold := j.Configuration.Int(conf.KeySLAMinutesSinceSuccess)

	var lead string
	if baseline.Status == task.StatusComplete {
		lead = "last complete run was at"
	} else {
		lead = "no successful runs. Scheduled since"
	}

	msg := fmt.Sprintf("%s -> %s %s (%d minutes ago; threshold set to %d)",
		p.Name(), lead, baseline.Timestamp.In(j.Configuration.TimeZone()).Format("20060102 15:04 MST"), minutesAgo, threshold)

	return Alert{JobID: j.ID, Job: j, Policy: p.Name(), Message: msg, Status: status, Timestamp: now}
}

// thresholdPolicy implements the shared shape of CommentedExpression and
// MalformedExpression: both fire a Failure when a row has sat in a
// specific bad state (commented, or malformed) longer than a configured
// number of minutes since it was last read from the crontab.
type thresholdPolicy struct {
	name       string
	key        conf.Key
	badState   func(j *job.Job) bool
	failureMsg string
	successMsg string
}

func (p thresholdPolicy) Name() string { return p.name }

func (p thresholdPolicy) Disabled(j *job.Job) bool {
	return j.Configuration.Int(p.key) == -1
}

func (p thresholdPolicy) Generate(j *job.Job, now time.Time) Alert {
	threshold := j.Configuration.Int(p.key)
	minutesElapsed := int(now.Sub(j.Row.ReadTimestamp).Minutes())

	if p.badState(j) && minutesElapsed > threshold {
		msg := fmt.Sprintf("%s-> %s (%s for %d minutes; threshold set to %d)",
			p.name, p.failureMsg, p.stateWord(), minutesElapsed, threshold)
		return Alert{JobID: j.ID, Job: j, Policy: p.name, Message: msg, Status: Failure, Timestamp: now}
	}

	msg := fmt.Sprintf("%s-> %s", p.name, p.successMsg)
	return Alert{JobID: j.ID, Job: j, Policy: p.name, Message: msg, Status: Success, Timestamp: now}
}

func (p thresholdPolicy) stateWord() string {
	if p.name == "Commented_Expression" {
		return "commented out"
	}
	return "malformed"
}

// NewCommentedExpression alerts when a row has been commented out in the
// crontab for longer than SLACommentedExpressionAlertDelayMinutes.
func NewCommentedExpression() Policy {
	return thresholdPolicy{
		name:       "Commented_Expression",
		key:        conf.KeySLACommentedExpressionAlertDelayMinutes,
		badState:   func(j *job.Job) bool { return j.Row.Commented },
		failureMsg: "row is commented and disabled",
		successMsg: "expression uncommented and scheduled to run",
	}
}

// NewMalformedExpression alerts when a row has failed to parse for
// longer than SLAMalformedExpressionAlertDelayMinutes.
func NewMalformedExpression() Policy {
	return thresholdPolicy{
		name:       "Malformed_Expression",
		key:        conf.KeySLAMalformedExpressionAlertDelayMinutes,
		badState:   func(j *job.Job) bool { return j.Row.Malformed },
		failureMsg: "row is uncommented but cannot be run due to syntax error",
		successMsg: "expression is valid and scheduled to run",
	}
}
