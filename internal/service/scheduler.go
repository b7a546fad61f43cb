package service

import (
	"context"
	"sync"
	"time"

	"waconsole/internal/constants"
	"waconsole/internal/metrics"
	"waconsole/internal/validation"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
)

// JournalCleaner prunes resolved mutations older than the retention window.
type JournalCleaner interface {
	CleanupOldMutations(ctx context.Context, retentionDays int) (int64, error)
}

type Scheduler struct {
	journal  JournalCleaner
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
	resetCh  chan struct{}

	mu            sync.Mutex
	retentionDays int
	schedule      string
}

func NewScheduler(journal JournalCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		journal:       journal,
		retentionDays: retentionDays,
		interval:      time.Duration(intervalHours) * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
		resetCh:       make(chan struct{}, 1),
	}
}

// SetSchedule runs cleanups on a cron expression instead of the fixed interval.
func (s *Scheduler) SetSchedule(expr string) error {
	if err := validation.ValidateCronExpression(expr); err != nil {
		return err
	}
	s.mu.Lock()
	s.schedule = expr
	s.mu.Unlock()
	s.reset()
	return nil
}

// Reconfigure applies a reloaded retention window and schedule. An empty
// schedule falls back to the fixed interval. The pending wait is recomputed.
func (s *Scheduler) Reconfigure(retentionDays int, schedule string) error {
	if schedule != "" {
		if err := validation.ValidateCronExpression(schedule); err != nil {
			return err
		}
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	s.mu.Lock()
	s.retentionDays = retentionDays
	s.schedule = schedule
	s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Scheduler) reset() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) settings() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retentionDays, s.schedule
}

func (s *Scheduler) Start(ctx context.Context) {
	_, schedule := s.settings()
	s.logger.WithFields(logrus.Fields{
		LogFieldComponent: ComponentScheduler,
		"schedule":        schedule,
		"interval":        s.interval.String(),
	}).Info("Starting journal cleanup scheduler")

	s.runCleanup(ctx)

	for {
		timer := time.NewTimer(s.nextDelay(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-s.resetCh:
			timer.Stop()
		case <-timer.C:
			s.runCleanup(ctx)
		}
	}
}

// nextDelay is the wait before the next cleanup after now.
func (s *Scheduler) nextDelay(now time.Time) time.Duration {
	if _, schedule := s.settings(); schedule != "" {
		next, err := gronx.NextTickAfter(schedule, now, false)
		if err == nil {
			return next.Sub(now)
		}
		s.logger.WithError(err).Warn("Cleanup schedule has no next tick, using interval")
	}
	return s.interval
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	retentionDays, _ := s.settings()
	entry := s.logger.WithFields(logrus.Fields{
		LogFieldComponent: ComponentScheduler,
		"retention_days":  retentionDays,
	})

	removed, err := s.journal.CleanupOldMutations(ctx, retentionDays)
	if err != nil {
		entry.WithError(err).Error("Failed to cleanup mutation journal")
		return
	}
	metrics.AddToCounter("journal_rows_pruned_total", float64(removed), nil, "Journal rows removed by retention cleanup")
	entry.WithField(LogFieldCount, removed).Info("Journal cleanup completed")
}
