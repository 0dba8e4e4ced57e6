// Package scheduler implements the minute-aligned driver loop from spec
// §4.2: it ticks JobManager.Run once per calendar minute, polling the
// configuration and crontab files for changes in between ticks.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	"github.com/CBrophy/omicron/internal/crontab"
	"github.com/CBrophy/omicron/internal/job"
	logx "github.com/CBrophy/omicron/pkg/logx"
	"github.com/fsnotify/fsnotify"
)

const pollInterval = time.Second

// Scheduler owns the single scheduler thread: reload-watch plus one
// JobManager.Tick per minute. It is meant to be launched via
// internal/runtime/supervisor's Go (no restart) — its own death is fatal.
type Scheduler struct {
	configPath string
	log        logx.Logger
	manager    *job.JobManager

	config  *conf.Configuration
	crontab *crontab.Crontab

	wake chan struct{}
}

// New loads the initial configuration and crontab and constructs a
// Scheduler ready to Run.
func New(configPath string, manager *job.JobManager, log logx.Logger) *Scheduler {
	cfg := conf.Load(configPath, log)
	tab := crontab.Load(cfg.String(conf.KeyCrontabPath), cfg, log)

	manager.UpdateConfiguration(cfg, tab)

	return &Scheduler{
		configPath: configPath,
		log:        log,
		manager:    manager,
		config:     cfg,
		crontab:    tab,
		wake:       make(chan struct{}, 1),
	}
}

// Run drives the reload-watch/tick loop until ctx is cancelled. Matches
// the ctx-taking signature supervisor.Go expects.
func (s *Scheduler) Run(ctx context.Context) error {
	go s.watch(ctx)

	target := ceilingMinute(time.Now().UTC())

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := time.Now().UTC()
		if now.Before(target) {
			s.pollReload()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			case <-time.After(pollInterval):
			}
			continue
		}

		if now.After(target) {
			s.log.Warn("scheduler tick skipped, a minute boundary was missed", logx.Time("target", target), logx.Time("now", now))
		}

		target = ceilingMinute(now.Add(time.Millisecond))

		s.manager.Tick(now)
	}
}

// pollReload checks the configuration and crontab file mtimes and, if
// either has advanced past what's loaded, reloads both and hands the
// result to JobManager. This remains the sole authority for triggering a
// reload — a wake signal from fsnotify with no mtime change is a no-op.
func (s *Scheduler) pollReload() {
	configChanged := fileModTime(s.configPath).After(s.config.ModTime())
	crontabChanged := fileModTime(s.crontab.Path).After(s.crontab.Mtime)

	if !configChanged && !crontabChanged {
		return
	}

	newConfig := conf.Load(s.configPath, s.log)
	newCrontab := crontab.Load(newConfig.String(conf.KeyCrontabPath), newConfig, s.log)

	s.config = newConfig
	s.crontab = newCrontab
	s.manager.UpdateConfiguration(newConfig, newCrontab)

	s.log.Info("configuration reloaded", logx.Int("crontab_rows", len(newCrontab.Rows)), logx.Int("bad_rows", newCrontab.BadRows))
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// ceilingMinute rounds t up to the next whole UTC minute; a t that already
// falls exactly on a minute boundary is returned unchanged.
func ceilingMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return truncated
	}
	return truncated.Add(time.Minute)
}

// watch is a latency optimization only: it pushes a non-blocking wake
// signal into the same poll loop that already authoritatively checks
// file mtimes, so a config edit can be picked up before the next 1-second
// tick rather than after it. A dropped or coalesced event just means the
// plain poll catches it on schedule instead.
func (s *Scheduler) watch(ctx context.Context) {
	dirs := map[string]bool{
		filepath.Dir(s.configPath):  true,
		filepath.Dir(s.crontab.Path): true,
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("fsnotify unavailable, falling back to plain polling", logx.Err(err))
		return
	}
	defer w.Close()

	for dir := range dirs {
		if dir == "" {
			continue
		}
		if err := w.Add(dir); err != nil {
			s.log.Warn("fsnotify watch failed for directory", logx.String("dir", dir), logx.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("fsnotify watch error", logx.Err(err))
		}
	}
}
