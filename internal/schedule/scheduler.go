// Package schedule runs the digest on a cron schedule and reloads the config
// when its file changes.
package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/issue-digest/internal/config"
	"github.com/hochfrequenz/issue-digest/internal/log"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor like @daily
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// LoadFunc reads the current config
type LoadFunc func() (*config.Config, error)

// RunFunc performs one scheduled run with the config current at that tick
type RunFunc func(ctx context.Context, cfg *config.Config) error

// Scheduler fires RunFunc at every tick of the configured cron expression.
// Runs happen on the caller's goroutine, so a slow run delays the next tick
// instead of overlapping it.
type Scheduler struct {
	path  string
	load  LoadFunc
	run   RunFunc
	cfg   *config.Config
	sched cron.Schedule
	now   func() time.Time

	lastRun time.Time
}

// New loads the config once and parses its schedule. path is the config file
// watched for changes; it may be empty to disable reloading.
func New(path string, load LoadFunc, run RunFunc) (*Scheduler, error) {
	s := &Scheduler{path: path, load: load, run: run, now: time.Now}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the config used for the next run
func (s *Scheduler) Config() *config.Config { return s.cfg }

// LastRun returns when the last run started, zero if none did
func (s *Scheduler) LastRun() time.Time { return s.lastRun }

// NextRun returns the next tick after now
func (s *Scheduler) NextRun() time.Time {
	return s.sched.Next(s.now())
}

// Reload re-reads the config. On error the previous config and schedule stay
// in effect.
func (s *Scheduler) Reload() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	sched, err := ParseCron(cfg.Schedule.Cron)
	if err != nil {
		return err
	}
	s.cfg, s.sched = cfg, sched
	return nil
}

// Start blocks until ctx is done, running at every tick and reloading the
// config between ticks when the file changes.
func (s *Scheduler) Start(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if s.path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("config watch disabled", "err", err)
		} else {
			defer watcher.Close()
			// Watch the directory: editors often replace the file on save.
			if err := watcher.Add(filepath.Dir(s.path)); err != nil {
				log.Warn("config watch disabled", "path", s.path, "err", err)
			} else {
				events, errs = watcher.Events, watcher.Errors
			}
		}
	}

	for {
		next := s.NextRun()
		log.Info("next digest run", "at", next.Format(time.RFC3339), "in", humanize.Time(next))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev := <-events:
			s.stopTimer(ctx, timer, next)
			if !s.isConfigEvent(ev) {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Error("config reload failed, keeping previous config", "path", s.path, "err", err)
				continue
			}
			log.Info("config reloaded", "path", s.path, "cron", s.cfg.Schedule.Cron)

		case err := <-errs:
			s.stopTimer(ctx, timer, next)
			log.Warn("config watch error", "err", err)

		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// stopTimer stops timer and runs the tick due at next if that time has
// already passed, so a watch event arriving together with a tick does not
// swallow the run.
func (s *Scheduler) stopTimer(ctx context.Context, timer *time.Timer, next time.Time) {
	timer.Stop()
	if !s.now().Before(next) {
		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.lastRun = s.now()
	if err := s.run(ctx, s.cfg); err != nil {
		log.Error("scheduled run failed", "err", err)
	}
}

func (s *Scheduler) isConfigEvent(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
