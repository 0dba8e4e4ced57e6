// Package sla implements the alert policy engine from spec §4.7: a
// shared evaluation harness plus three concrete policies, each deciding
// whether a Job's current state constitutes a Success or a Failure
// worth alerting on.
package sla

import (
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/job"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

// Status is the outcome of evaluating a policy against a single Job.
type Status int

const (
	// NotApplicable means the policy has nothing to say about this Job
	// right now — ambiguous signal, no log history, or not runnable.
	NotApplicable Status = iota
	Success
	Failure
)

// Alert is one actionable policy verdict for a Job, ready to be
// formatted and batched by the alert dispatcher.
type Alert struct {
	JobID     int64
	Job       *job.Job
	Policy    string
	Message   string
	Status    Status
	Timestamp time.Time
}

// logEntry is the last alert this engine emitted for a given job, used
// to suppress repeats and bootstrap noise.
type logEntry struct {
	status    Status
	timestamp time.Time
}

// Policy decides, for a single Job, whether an alert condition applies.
type Policy interface {
	// Name identifies the policy in alert messages and logs.
	Name() string
	// Disabled reports whether this Job's configuration turns the policy
	// off entirely (conventionally, a threshold of -1).
	Disabled(j *job.Job) bool
	// Generate produces this policy's verdict for j. Returning
	// NotApplicable means "nothing to report right now".
	Generate(j *job.Job, now time.Time) Alert
}

// Evaluator runs one Policy across a job set call after call, tracking
// the last alert emitted per job so it can suppress repeats and bootstrap
// noise exactly as spec §4.7 describes. Not safe for concurrent use —
// it's driven solely by the scheduler thread via AlertManager.
type Evaluator struct {
	policy Policy
	log    logx.Logger
	last   map[int64]logEntry
}

// NewEvaluator wraps policy in a fresh Evaluator with an empty alert history.
func NewEvaluator(policy Policy, log logx.Logger) *Evaluator {
	return &Evaluator{policy: policy, log: log, last: map[int64]logEntry{}}
}

// Evaluate runs the wrapped policy across jobs and returns the alerts
// that should actually be dispatched this round, per spec §4.7's
// suppression rules. Jobs no longer present in the input are purged from
// the evaluator's history afterward.
func (e *Evaluator) Evaluate(jobs []*job.Job, now time.Time) []Alert {
	var out []Alert
	presentIDs := make(map[int64]bool, len(jobs))

	for _, j := range jobs {
		presentIDs[j.ID] = true

		if !j.IsActive() {
			continue
		}

		if e.policy.Disabled(j) {
			e.log.Debug("policy disabled for job", logx.String("policy", e.policy.Name()), logx.Int64("job_id", j.ID))
			continue
		}

		if interval, ok := j.Configuration.Downtime(); ok && interval.Contains(now.In(j.Configuration.TimeZone())) {
			e.log.Debug("job in SLA downtime window", logx.String("policy", e.policy.Name()), logx.Int64("job_id", j.ID))
			continue
		}

		alert := e.policy.Generate(j, now)
		if alert.Status == NotApplicable {
			continue
		}

		prev, hasPrev := e.last[j.ID]
		if hasPrev {
			if alert.Status == Success && prev.status == Success {
				continue
			}
			if alert.Status == Failure && e.withinRepeatDelay(prev, j, now) {
				continue
			}
		} else if alert.Status != Failure {
			continue
		}

		e.last[j.ID] = logEntry{status: alert.Status, timestamp: now}
		out = append(out, alert)
	}

	for id := range e.last {
		if !presentIDs[id] {
			delete(e.last, id)
		}
	}

	return out
}

func (e *Evaluator) withinRepeatDelay(prev logEntry, j *job.Job, now time.Time) bool {
	delay := time.Duration(j.Configuration.Int(conf.KeyAlertMinutesDelayRepeat)) * time.Minute
	return now.Sub(prev.timestamp) <= delay
}
