package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/issue-digest/internal/config"
)

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func staticLoad(expr string) LoadFunc {
	return func() (*config.Config, error) {
		cfg := config.Default()
		cfg.Schedule.Cron = expr
		return cfg, nil
	}
}

func noRun(ctx context.Context, cfg *config.Config) error { return nil }

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 9 * * *", false},    // 9 AM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"@daily", false},
		{"invalid", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := New("", staticLoad("0 9 * * *"), noRun)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2024, 11, 5, 10, 0, 0, 0, time.Local) }

	want := time.Date(2024, 11, 6, 9, 0, 0, 0, time.Local)
	if got := s.NextRun(); !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New("", staticLoad("not a cron"), noRun); err == nil {
		t.Error("New should reject an invalid cron expression")
	}
}

func TestScheduler_ReloadKeepsPreviousOnError(t *testing.T) {
	expr := "0 9 * * *"
	fail := false
	load := func() (*config.Config, error) {
		if fail {
			return nil, errors.New("broken file")
		}
		cfg := config.Default()
		cfg.Schedule.Cron = expr
		return cfg, nil
	}

	s, err := New("", load, noRun)
	if err != nil {
		t.Fatal(err)
	}

	expr = "bogus"
	if err := s.Reload(); err == nil {
		t.Error("Reload should fail on a bad cron expression")
	}
	fail = true
	if err := s.Reload(); err == nil {
		t.Error("Reload should fail when loading fails")
	}
	if got := s.Config().Schedule.Cron; got != "0 9 * * *" {
		t.Errorf("cron after failed reloads = %q", got)
	}
}

func TestScheduler_RunsSequentially(t *testing.T) {
	var runs, inFlight int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := func(ctx context.Context, cfg *config.Config) error {
		if atomic.AddInt32(&inFlight, 1) != 1 {
			t.Error("runs overlapped")
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if atomic.AddInt32(&runs, 1) == 3 {
			cancel()
		}
		return errors.New("errors do not stop the loop")
	}

	s, err := New("", staticLoad("@daily"), run)
	if err != nil {
		t.Fatal(err)
	}
	s.sched = every(time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
	if s.LastRun().IsZero() {
		t.Error("LastRun should be set")
	}
}

func TestScheduler_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("schedule:\n  cron: \"0 9 * * *\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var loads int32
	load := func() (*config.Config, error) {
		atomic.AddInt32(&loads, 1)
		return config.Load(path, "")
	}

	s, err := New(path, load, noRun)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&loads) < 2 && time.Now().Before(deadline) {
		os.WriteFile(path, []byte("schedule:\n  cron: \"30 7 * * *\"\n"), 0644)
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	if atomic.LoadInt32(&loads) < 2 {
		t.Fatal("config was not reloaded after the file changed")
	}
	if got := s.Config().Schedule.Cron; got != "30 7 * * *" {
		t.Errorf("cron after reload = %q", got)
	}
}

func TestScheduler_IgnoresOtherFiles(t *testing.T) {
	s := &Scheduler{path: "/etc/digest/config.yaml"}
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/etc/digest/config.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/etc/digest/config.yaml", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/etc/digest/config.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/etc/digest/.config.last_run", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := s.isConfigEvent(tt.ev); got != tt.want {
			t.Errorf("isConfigEvent(%v) = %v, want %v", tt.ev, got, tt.want)
		}
	}
}

func TestScheduler_EventDoesNotSwallowDueTick(t *testing.T) {
	var runs int32
	run := func(ctx context.Context, cfg *config.Config) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	s, err := New("", staticLoad("@daily"), run)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// Due at exactly now: the run must happen.
	s.stopTimer(context.Background(), time.NewTimer(time.Hour), now)
	if runs != 1 {
		t.Errorf("runs after due tick = %d, want 1", runs)
	}

	// Not due yet: nothing runs.
	s.stopTimer(context.Background(), time.NewTimer(time.Hour), now.Add(time.Minute))
	if runs != 1 {
		t.Errorf("runs after early event = %d, want 1", runs)
	}
	if !s.LastRun().Equal(now) {
		t.Errorf("LastRun() = %v, want %v", s.LastRun(), now)
	}
}
