// Package alert batches SLA policy verdicts into a single outgoing
// email per scheduler tick, per spec §4.8.
package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/job"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	"github.com/CBrophy/omicron/internal/sla"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

// dispatchRateLimit bounds how often the worker is willing to attempt an
// SMTP send, independent of the dispatch queue's own backpressure — a
// safety valve against a misbehaving SMTP server turning every tick's
// alert batch into a send-and-retry storm.
const dispatchRateLimit = 1.0 // sends per second, bursts of 1

// dryRunRecipient suppresses real delivery: a message addressed only to
// this recipient is logged instead of sent, for safe dry-run testing.
const dryRunRecipient = "someone@example.com"

// dispatchQueueSize is intentionally small: the alert worker is meant to
// be the only consumer, and the scheduler thread must never block on it.
const dispatchQueueSize = 1

type outgoingMail struct {
	from    string
	to      []string
	host    string
	port    string
	subject string
	body    string
}

// Manager evaluates the SLA policies against the live job set once per
// tick and, if any alert survived suppression, formats and submits a
// single email to a background dispatcher worker.
type Manager struct {
	policies []*sla.Evaluator
	log      logx.Logger
	sup      *supervisor.Supervisor
	queue    chan outgoingMail
	hostname string
	limiter  *rate.Limiter
}

// NewManager constructs a Manager with the three policies from spec §4.7
// and launches its single background dispatcher worker via sup. hostname
// identifies this instance in the alert subject line (spec §6).
func NewManager(sup *supervisor.Supervisor, log logx.Logger, hostname string) *Manager {
	m := &Manager{
		policies: []*sla.Evaluator{
			sla.NewEvaluator(sla.NewTimeSinceLastSuccess(), log),
			sla.NewEvaluator(sla.NewCommentedExpression(), log),
			sla.NewEvaluator(sla.NewMalformedExpression(), log),
		},
		log:      log,
		sup:      sup,
		queue:    make(chan outgoingMail, dispatchQueueSize),
		hostname: hostname,
		limiter:  rate.NewLimiter(rate.Limit(dispatchRateLimit), 1),
	}

	sup.GoRestart0("alert-dispatcher", m.dispatchLoop)

	return m
}

// SendAlerts evaluates every policy against jobs and, if any alert
// survives suppression, submits one batched email. Called once per
// scheduler tick, strictly after the Job launch loop and retirement
// sweep (spec §4.6/§5).
func (m *Manager) SendAlerts(jobs []*job.Job) {
	now := time.Now()

	byRow := map[string][]sla.Alert{}

	for _, evaluator := range m.policies {
		for _, a := range evaluator.Evaluate(jobs, now) {
			if !a.Job.Configuration.Bool(conf.KeyAlertEmailEnabled) {
				m.log.Warn("alert dropped: email alerting disabled for job", logx.Int64("job_id", a.JobID))
				continue
			}
			byRow[a.Job.Row.RawExpression] = append(byRow[a.Job.Row.RawExpression], a)
		}
	}

	if len(byRow) == 0 {
		return
	}

	subject, body, failed, succeeded := formatMail(m.hostname, byRow)
	m.log.Info("submitting alert email", logx.Int("failures", failed), logx.Int("successes", succeeded))

	mail := outgoingMail{body: body, subject: subject}
	if cfg := jobsConfiguration(jobs); cfg != nil {
		mail.from = cfg.String(conf.KeyAlertEmailAddressFrom)
		mail.to = splitRecipients(cfg.String(conf.KeyAlertEmailAddressTo))
		mail.host = cfg.String(conf.KeyAlertEmailSMTPHost)
		mail.port = cfg.String(conf.KeyAlertEmailSMTPPort)
	}

	select {
	case m.queue <- mail:
	default:
		m.log.Error("alert dispatch queue full, dropping alert email")
	}
}

// jobsConfiguration returns the first active job's configuration as a
// representative source of the (process-wide) email transport settings.
func jobsConfiguration(jobs []*job.Job) *conf.Configuration {
	for _, j := range jobs {
		if j.IsActive() {
			return j.Configuration
		}
	}
	return nil
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// formatMail renders the subject/body exactly per spec §4.8: a leading
// summary line, then for each row its raw crontab expression, a blank
// line, and a FAIL:/SUCCESS: line per alert, then a trailing signature.
func formatMail(hostname string, byRow map[string][]sla.Alert) (subject, body string, failed, succeeded int) {
	rows := make([]string, 0, len(byRow))
	for expr := range byRow {
		rows = append(rows, expr)
	}
	sort.Strings(rows)

	var b strings.Builder
	b.WriteString("Alerts are listed in order of crontab expression and alert timestamp\n\n")

	for _, expr := range rows {
		b.WriteString(expr)
		b.WriteString("\n\n")

		alerts := byRow[expr]
		sort.Slice(alerts, func(i, j int) bool { return alerts[i].Timestamp.Before(alerts[j].Timestamp) })

		for _, a := range alerts {
			if a.Status == sla.Failure {
				failed++
				b.WriteString("FAIL: ")
			} else {
				succeeded++
				b.WriteString("SUCCESS: ")
			}
			b.WriteString(a.Message)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Sincerely,\nOmicron <3")

	subjectBuilder := strings.Builder{}
	subjectBuilder.WriteString("[OMICRON ALERT: ")
	subjectBuilder.WriteString(hostname)
	subjectBuilder.WriteByte(']')
	if failed > 0 {
		subjectBuilder.WriteString(" failures: ")
		subjectBuilder.WriteString(strconv.Itoa(failed))
	}
	if succeeded > 0 {
		subjectBuilder.WriteString(" successes: ")
		subjectBuilder.WriteString(strconv.Itoa(succeeded))
	}

	return subjectBuilder.String(), b.String(), failed, succeeded
}

// dispatchLoop is the Manager's single background worker: it drains the
// dispatch queue and attempts delivery, never propagating a send failure
// back to the scheduler loop.
func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mail := <-m.queue:
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
			m.deliver(mail)
		}
	}
}

func (m *Manager) deliver(mail outgoingMail) {
	if len(mail.to) == 1 && mail.to[0] == dryRunRecipient {
		m.log.Info("dry-run alert email (sentinel recipient)", logx.String("subject", mail.subject), logx.String("body", mail.body))
		return
	}

	if mail.host == "" || len(mail.to) == 0 {
		m.log.Warn("alert email not configured, dropping", logx.String("subject", mail.subject))
		return
	}

	addr := fmt.Sprintf("%s:%s", mail.host, mail.port)
	msg := buildRFC822(mail)

	if err := smtp.SendMail(addr, nil, mail.from, mail.to, msg); err != nil {
		m.log.Error("failed to send alert email", logx.Err(err), logx.String("subject", mail.subject))
	}
}

func buildRFC822(mail outgoingMail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", mail.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(mail.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mail.subject)
	b.WriteString("\r\n")
	b.WriteString(mail.body)
	return []byte(b.String())
}
