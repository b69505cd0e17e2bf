package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/events"
)

// PerkLister finds perks by end date.
type PerkLister interface {
	EndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error)
}

// ExpiryJob publishes PerkExpired once for every perk whose end date has been reached.
type ExpiryJob struct {
	perks     PerkLister
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	checked time.Time
}

// NewExpiryJob constructs an ExpiryJob. The first run covers perks ending today.
func NewExpiryJob(perks PerkLister, publisher events.Publisher, logger *slog.Logger) *ExpiryJob {
	return &ExpiryJob{perks: perks, publisher: publisher, logger: logger, now: time.Now}
}

// Run checks the window since the previous run and returns the number of perks expired.
func (j *ExpiryJob) Run(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	today := domain.Day(j.now())
	after := j.checked
	if after.IsZero() {
		after = today.AddDate(0, 0, -1)
	}
	if !today.After(after) {
		return 0, nil
	}
	perks, err := j.perks.EndingBetween(ctx, after, today)
	if err != nil {
		return 0, fmt.Errorf("list expiring perks: %w", err)
	}
	for _, p := range perks {
		j.logger.Info("perk expired", "perk_id", p.ID, "end_date", p.EndDate.Format(domain.DateLayout))
		if j.publisher == nil {
			continue
		}
		if err := j.publisher.Publish(ctx, domain.PerkEvent(domain.EventPerkExpired, p, 0, j.now())); err != nil {
			j.logger.Warn("publish expiry failed", "perk_id", p.ID, "error", err)
		}
	}
	j.checked = today
	return len(perks), nil
}

// Scheduler runs background jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler constructs a Scheduler in UTC.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithLocation(time.UTC)), logger: logger}
}

// ScheduleExpiry registers the expiry job on spec.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, spec string, job *ExpiryJob) error {
	_, err := s.cron.AddFunc(spec, func() {
		count, err := job.Run(ctx)
		if err != nil {
			s.logger.Error("expiry job failed", "error", err)
			return
		}
		s.logger.Debug("expiry job finished", "expired", count)
	})
	if err != nil {
		return fmt.Errorf("schedule expiry %q: %w", spec, err)
	}
	return nil
}

// Start launches the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started", "entries", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
}
