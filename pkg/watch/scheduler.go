package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
)

// Reconciler repairs drift between blobs and catalog rows
type Reconciler interface {
	Run(ctx context.Context) (*models.ReconcileReport, error)
}

// Scheduler runs orphan reconciliation every configured interval.
// The last outcome survives restarts through the state file, so a
// restarted watcher waits out the remainder of the interval.
type Scheduler struct {
	reconciler   Reconciler
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager
}

// NewScheduler creates a new reconcile scheduler
func NewScheduler(reconciler Reconciler, cfg config.ReconcileConfig, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		reconciler:   reconciler,
		interval:     cfg.Interval,
		log:          log,
		stateManager: NewStateManager(cfg.StateFile),
	}
}

// Run blocks, reconciling whenever a run is due, until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", s.interval)
	}
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load reconcile state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting reconcile watcher with interval %s", FormatInterval(s.interval))
	s.logLastRun()

	s.RunIfDue(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Reconcile watcher shutting down...")
			return nil
		case <-ticker.C:
			s.RunIfDue(ctx)
		}
	}
}

// RunIfDue reconciles once if the interval has elapsed and reports whether it ran
func (s *Scheduler) RunIfDue(ctx context.Context) bool {
	if !s.stateManager.ShouldRun(s.interval) {
		return false
	}

	report, err := s.reconciler.Run(ctx)
	if err != nil && ctx.Err() != nil {
		// Shutdown mid-run is not a failed run
		return false
	}
	if err != nil {
		s.log.Errorf("Failed to reconcile media: %v", err)
	} else {
		s.log.WithFields(logrus.Fields{
			"checked":         report.CheckedRecords,
			"removed_records": len(report.RemovedRecords),
			"orphan_files":    len(report.OrphanFiles),
			"removed_files":   report.RemovedFiles,
		}).Info("Reconcile run complete")
	}

	s.stateManager.Record(report, err)
	if saveErr := s.stateManager.Save(); saveErr != nil {
		s.log.Errorf("Failed to save reconcile state: %v", saveErr)
	}
	s.logNextRun()
	return true
}

// Status returns the last recorded outcome and the next due time
func (s *Scheduler) Status() (ReconcileState, time.Time) {
	return s.stateManager.State(), s.stateManager.NextRunTime(s.interval)
}

// calculateTickInterval returns how often to check whether a run is due
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logLastRun() {
	state := s.stateManager.State()
	if state.LastRun.IsZero() {
		s.log.Info("No previous reconcile run, running immediately")
		return
	}
	status := "success"
	if !state.LastSuccess {
		status = "failed: " + state.LastError
	}
	s.log.Infof("Last reconcile run %s (%s, %d records removed, %d orphan files)",
		state.LastRun.Format(time.RFC3339), status, len(state.RemovedRecords), len(state.OrphanFiles))
}

func (s *Scheduler) logNextRun() {
	next := s.stateManager.NextRunTime(s.interval)
	until := time.Until(next)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next reconcile in %v (at %s)", until.Round(time.Second), next.Format("15:04:05"))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	if hours := int(d.Hours()) % 24; hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, also accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	var remaining string
	if n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining); n >= 1 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}
	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
