package loops

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/reconciler"
)

// reconcileScheduler fires once per trading day at the configured Eastern
// time-of-day, grounded on the teacher's cmd/bot/main.go daily-schedule
// ticker pattern generalized from a fixed constant to a configured
// time-of-day string.
type reconcileScheduler struct {
	reconciler *reconciler.Reconciler
	calendar   *clock.Calendar
	clock      clock.Clock
	log        *logrus.Entry
	timeOfDay  string // HH:MM:SS Eastern
	autoFix    bool

	lastRunDate string
}

func (s *reconcileScheduler) run(ctx context.Context) error {
	const pollInterval = 30 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.maybeRun(ctx)
		}
	}
}

func (s *reconcileScheduler) maybeRun(ctx context.Context) {
	now := s.clock.Now()
	dateKey := now.Format("2006-01-02")
	if dateKey == s.lastRunDate {
		return
	}

	target, err := time.ParseInLocation("15:04:05", s.timeOfDay, now.Location())
	if err != nil {
		s.log.WithError(err).Error("reconcile_scheduler: invalid reconciliation_time_eastern")
		return
	}
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), target.Second(), 0, now.Location())
	if now.Before(scheduled) {
		return
	}

	isTradingDay, err := s.calendar.IsTradingDay(now)
	if err != nil {
		s.log.WithError(err).Error("reconcile_scheduler: is_trading_day check failed")
		return
	}
	if !isTradingDay {
		s.lastRunDate = dateKey
		return
	}

	report, err := s.reconciler.Run(ctx, now, dateKey, s.autoFix, false)
	if err != nil {
		s.log.WithError(err).Error("reconcile_scheduler: reconciliation run failed")
		return
	}
	s.lastRunDate = dateKey

	if report.Empty() {
		s.log.Info("reconcile_scheduler: clean reconciliation, no drift")
		return
	}
	s.log.WithField("extras_local", report.ExtrasLocal).
		WithField("extras_broker", report.ExtrasBroker).
		WithField("share_mismatches", len(report.ShareMismatches)).
		WithField("auto_fixed", report.AutoFixed).
		Warn("reconcile_scheduler: drift detected")
}
