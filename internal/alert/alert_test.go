package alert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/job"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	"github.com/CBrophy/omicron/internal/sla"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

func newTestJob(t *testing.T, sup *supervisor.Supervisor, overrides map[conf.Key]string) *job.Job {
	t.Helper()
	base := conf.Load("", logx.Nop()).WithOverrides(overrides)

	dir := t.TempDir()
	path := filepath.Join(dir, "crontab")
	if err := os.WriteFile(path, []byte("* * * * * root echo hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ct := crontab.Load(path, base, logx.Nop())
	return job.New(ct.Rows[0], ct.Rows[0].Command, base, sup, logx.Nop())
}

func TestManagerSendAlertsDropsDisabledJobAlerts(t *testing.T) {
	t.Parallel()

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	m := NewManager(sup, logx.Nop(), "host1")

	j := newTestJob(t, sup, map[conf.Key]string{
		conf.KeyAlertEmailEnabled:                    "false",
		conf.KeySLACommentedExpressionAlertDelayMinutes: "0",
	})
	j.Row.Commented = true
	j.Row.ReadTimestamp = time.Now().Add(-time.Hour)

	// With alert.email.enabled=false, SendAlerts must drop every alert for
	// this job rather than queue an email.
	m.SendAlerts([]*job.Job{j})

	select {
	case <-m.queue:
		t.Fatalf("expected no mail queued when alert.email.enabled is false")
	default:
	}
}

func TestManagerDeliverDryRunSentinelRecipient(t *testing.T) {
	t.Parallel()

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	m := NewManager(sup, logx.Nop(), "host1")

	// Must not attempt a real network send; dryRunRecipient short-circuits
	// before smtp.SendMail is ever called.
	m.deliver(outgoingMail{to: []string{dryRunRecipient}, subject: "s", body: "b"})
}

func TestManagerDeliverDropsWhenUnconfigured(t *testing.T) {
	t.Parallel()

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	m := NewManager(sup, logx.Nop(), "host1")

	m.deliver(outgoingMail{subject: "s", body: "b"})
}

func TestSplitRecipients(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want []string
	}{
		{"a@example.com", []string{"a@example.com"}},
		{"a@example.com, b@example.com", []string{"a@example.com", "b@example.com"}},
		{" a@example.com ,, b@example.com", []string{"a@example.com", "b@example.com"}},
		{"", nil},
	}

	for _, c := range cases {
		got := splitRecipients(c.raw)
		if len(got) != len(c.want) {
			t.Errorf("splitRecipients(%q) = %v, want %v", c.raw, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitRecipients(%q) = %v, want %v", c.raw, got, c.want)
				break
			}
		}
	}
}

func TestFormatMailSubjectCountsAndBody(t *testing.T) {
	t.Parallel()

	now := time.Now()
	byRow := map[string][]sla.Alert{
		"* * * * * root echo a": {
			{Status: sla.Failure, Message: "Fake -> bad", Timestamp: now},
			{Status: sla.Success, Message: "Fake -> good", Timestamp: now.Add(time.Second)},
		},
	}

	subject, body, failed, succeeded := formatMail("host1", byRow)

	if failed != 1 || succeeded != 1 {
		t.Fatalf("failed=%d succeeded=%d, want 1 and 1", failed, succeeded)
	}
	if !strings.Contains(subject, "[OMICRON ALERT: host1]") {
		t.Errorf("subject = %q, want hostname banner", subject)
	}
	if !strings.Contains(subject, "failures: 1") || !strings.Contains(subject, "successes: 1") {
		t.Errorf("subject = %q, want both failure and success counts", subject)
	}
	if !strings.Contains(body, "* * * * * root echo a") {
		t.Errorf("body = %q, want the raw crontab expression present", body)
	}
	if !strings.Contains(body, "FAIL: Fake -> bad") {
		t.Errorf("body = %q, want a FAIL: line", body)
	}
	if !strings.Contains(body, "SUCCESS: Fake -> good") {
		t.Errorf("body = %q, want a SUCCESS: line", body)
	}
	if !strings.HasSuffix(strings.TrimRight(body, "\n"), "Sincerely,\nOmicron <3") {
		t.Errorf("body = %q, want the trailing signature", body)
	}
}

func TestFormatMailSubjectOmitsZeroCounts(t *testing.T) {
	t.Parallel()

	byRow := map[string][]sla.Alert{
		"* * * * * root echo a": {{Status: sla.Failure, Message: "Fake -> bad", Timestamp: time.Now()}},
	}

	subject, _, _, _ := formatMail("host1", byRow)
	if strings.Contains(subject, "successes:") {
		t.Errorf("subject = %q, want no successes clause when there are none", subject)
	}
}

func TestBuildRFC822Headers(t *testing.T) {
	t.Parallel()

	mail := outgoingMail{
		from:    "omicron@example.com",
		to:      []string{"a@example.com", "b@example.com"},
		subject: "[OMICRON ALERT: host1]",
		body:    "hello",
	}

	msg := string(buildRFC822(mail))
	if !strings.Contains(msg, "From: omicron@example.com\r\n") {
		t.Errorf("buildRFC822() missing From header: %q", msg)
	}
	if !strings.Contains(msg, "To: a@example.com, b@example.com\r\n") {
		t.Errorf("buildRFC822() missing To header: %q", msg)
	}
	if !strings.HasSuffix(msg, "hello") {
		t.Errorf("buildRFC822() = %q, want body at the end", msg)
	}
}
