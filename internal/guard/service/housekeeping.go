package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/jonboulle/clockwork"
)

const DefaultRetention = 30 * 24 * time.Hour

// HousekeepingService periodically removes attempt records and intrusion
// snapshots older than Retention.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Interval  time.Duration
	Retention time.Duration

	// IntrusionDir is swept for snapshots no record points at any more.
	IntrusionDir string

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService defaults interval to 1 hour and retention to 30 days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, clock clockwork.Clock, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &HousekeepingService{
		Store:     st,
		Logger:    logger,
		Clock:     clock,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start is non-blocking; call Stop to shut the worker down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval, "retention", s.Retention)
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.Chan():
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// CleanupResult counts what one pass removed.
type CleanupResult struct {
	Attempts  int64
	Artifacts int
}

// Cleanup runs one pass. Steps are independent: a failing step is logged
// and the others still run.
func (s *HousekeepingService) Cleanup(ctx context.Context) CleanupResult {
	var res CleanupResult
	cutoff := s.Clock.Now().Add(-s.Retention)
	s.Logger.Info("starting housekeeping cleanup", "cutoff", cutoff)

	// Files first: once the rows are gone nothing points at them.
	paths, err := s.Store.Attempts().ListArtifactsBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to list expired artifacts", "error", err)
	} else {
		for _, p := range paths {
			if s.remove(p) {
				res.Artifacts++
			}
		}
	}

	if n, err := s.Store.Attempts().DeleteAttemptsBefore(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete expired attempts", "error", err)
	} else {
		res.Attempts = n
	}

	if s.IntrusionDir != "" {
		res.Artifacts += s.sweep(cutoff)
	}

	s.Logger.Info("housekeeping cleanup completed",
		"attempts_deleted", res.Attempts,
		"artifacts_deleted", res.Artifacts,
	)
	return res
}

func (s *HousekeepingService) remove(path string) bool {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true
	case errors.Is(err, fs.ErrNotExist):
		return false
	default:
		s.Logger.Warn("failed to delete artifact", "path", path, "error", err)
		return false
	}
}

// sweep removes snapshot files last modified before cutoff.
func (s *HousekeepingService) sweep(cutoff time.Time) int {
	entries, err := os.ReadDir(s.IntrusionDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.Logger.Error("failed to read intrusion directory", "error", err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if s.remove(filepath.Join(s.IntrusionDir, e.Name())) {
			removed++
		}
	}
	return removed
}
