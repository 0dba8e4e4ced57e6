package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CBrophy/omicron/internal/job"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

func TestCeilingMinute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{
			time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC),
			time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC),
		},
		{
			time.Date(2026, time.March, 4, 10, 30, 15, 0, time.UTC),
			time.Date(2026, time.March, 4, 10, 31, 0, 0, time.UTC),
		},
		{
			time.Date(2026, time.March, 4, 10, 30, 59, 999, time.UTC),
			time.Date(2026, time.March, 4, 10, 31, 0, 0, time.UTC),
		},
	}

	for _, c := range cases {
		if got := ceilingMinute(c.in); !got.Equal(c.want) {
			t.Errorf("ceilingMinute(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFileModTimeMissingFileIsZero(t *testing.T) {
	t.Parallel()

	if got := fileModTime(filepath.Join(t.TempDir(), "missing")); !got.IsZero() {
		t.Errorf("fileModTime(missing) = %v, want zero time", got)
	}
}

func TestNewLoadsInitialConfigurationAndCrontab(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	crontabPath := filepath.Join(dir, "crontab")
	if err := os.WriteFile(crontabPath, []byte("* * * * * root echo hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile crontab: %v", err)
	}

	configPath := filepath.Join(dir, "omicron.conf")
	if err := os.WriteFile(configPath, []byte("crontab.path="+crontabPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	manager := job.NewManager(sup, logx.Nop(), nil)

	s := New(configPath, manager, logx.Nop())

	if len(manager.Jobs()) != 1 {
		t.Fatalf("len(manager.Jobs()) = %d, want 1 after New's initial load", len(manager.Jobs()))
	}
	if s.crontab.Path != crontabPath {
		t.Errorf("crontab.Path = %q, want %q", s.crontab.Path, crontabPath)
	}
}

func TestPollReloadPicksUpCrontabChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	crontabPath := filepath.Join(dir, "crontab")
	if err := os.WriteFile(crontabPath, []byte("* * * * * root echo one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile crontab: %v", err)
	}

	configPath := filepath.Join(dir, "omicron.conf")
	if err := os.WriteFile(configPath, []byte("crontab.path="+crontabPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	manager := job.NewManager(sup, logx.Nop(), nil)
	s := New(configPath, manager, logx.Nop())

	// Ensure the rewritten file gets a strictly later mtime.
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(crontabPath, []byte("* * * * * root echo two\n"), 0o644); err != nil {
		t.Fatalf("WriteFile updated crontab: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(crontabPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	s.pollReload()

	jobs := manager.Jobs()
	if len(jobs) != 1 || jobs[0].Command != "echo two" {
		t.Fatalf("Jobs() after pollReload = %+v, want a single job running 'echo two'", jobs)
	}
}

func TestPollReloadNoopWithoutMtimeChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	crontabPath := filepath.Join(dir, "crontab")
	if err := os.WriteFile(crontabPath, []byte("* * * * * root echo one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile crontab: %v", err)
	}

	configPath := filepath.Join(dir, "omicron.conf")
	if err := os.WriteFile(configPath, []byte("crontab.path="+crontabPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}

	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	manager := job.NewManager(sup, logx.Nop(), nil)
	s := New(configPath, manager, logx.Nop())
	firstID := manager.Jobs()[0].ID

	s.pollReload()

	if manager.Jobs()[0].ID != firstID {
		t.Errorf("pollReload() replaced the Job despite no mtime change")
	}
}
