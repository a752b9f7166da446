// Package state keeps the per-configuration last-run timestamp.
package state

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store reads and writes the last-run file of one configuration. The file
// holds a single float, the Unix epoch in seconds.
type Store struct {
	path     string
	lookback time.Duration
	now      func() time.Time
}

// New creates a Store for the configuration named identity inside dir.
// lookback is the window used when no previous run is recorded.
func New(dir, identity string, lookback time.Duration) *Store {
	return &Store{
		path:     PathFor(dir, identity),
		lookback: lookback,
		now:      time.Now,
	}
}

// PathFor returns the side-car file used for a configuration identity.
func PathFor(dir, identity string) string {
	if identity == "" {
		return filepath.Join(dir, ".last_run")
	}
	return filepath.Join(dir, "."+identity+".last_run")
}

// Path returns the backing file
func (s *Store) Path() string { return s.path }

// Read returns the last recorded run, or now minus the lookback window when
// the file is missing or unreadable.
func (s *Store) Read() time.Time {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.now().Add(-s.lookback)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || !s.plausible(secs) {
		return s.now().Add(-s.lookback)
	}
	sec, frac := math.Modf(secs)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// plausible rejects non-finite values, times before the epoch and times
// further in the future than the lookback window, such as millisecond stamps.
func (s *Store) plausible(secs float64) bool {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return false
	}
	limit := s.now().Add(s.lookback)
	return secs <= float64(limit.Unix())
}

// Recorded reports whether a last-run file exists
func (s *Store) Recorded() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Write records t as the last run
func (s *Store) Write(t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	secs := float64(t.UnixNano()) / float64(time.Second)
	value := strconv.FormatFloat(secs, 'f', 6, 64)
	if err := os.WriteFile(s.path, []byte(value), 0644); err != nil {
		return fmt.Errorf("write last run: %w", err)
	}
	return nil
}

// Touch records the current time as the last run
func (s *Store) Touch() error {
	return s.Write(s.now())
}
