package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
)

type stubLister struct {
	perks []domain.Perk
	calls [][2]time.Time
}

func (s *stubLister) EndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error) {
	s.calls = append(s.calls, [2]time.Time{after, until})
	var out []domain.Perk
	for _, p := range s.perks {
		if p.EndDate.After(after) && !p.EndDate.After(until) {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubPublisher struct {
	events []domain.Event
}

func (s *stubPublisher) Publish(ctx context.Context, event domain.Event) error {
	s.events = append(s.events, event)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpiryJobPublishesEachPerkOnce(t *testing.T) {
	lister := &stubLister{perks: []domain.Perk{
		{ID: 1, EndDate: day(2026, 5, 1)},
		{ID: 2, EndDate: day(2026, 5, 2)},
		{ID: 3, EndDate: day(2026, 6, 1)},
	}}
	pub := &stubPublisher{}
	job := NewExpiryJob(lister, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	count, err := job.Run(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("first run: count=%d err=%v", count, err)
	}
	if count, _ := job.Run(context.Background()); count != 0 {
		t.Fatalf("same-day rerun should be a no-op, got %d", count)
	}

	now = time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	count, err = job.Run(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("later run: count=%d err=%v", count, err)
	}
	if len(pub.events) != 2 || pub.events[0].PerkID != 1 || pub.events[1].PerkID != 2 {
		t.Fatalf("unexpected events %+v", pub.events)
	}
	for _, e := range pub.events {
		if e.Type != domain.EventPerkExpired {
			t.Fatalf("unexpected event type %s", e.Type)
		}
	}
}

func TestScheduleExpiryRejectsBadSpec(t *testing.T) {
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	job := NewExpiryJob(&stubLister{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.ScheduleExpiry(context.Background(), "not a schedule", job); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if err := s.ScheduleExpiry(context.Background(), "@hourly", job); err != nil {
		t.Fatalf("schedule: %v", err)
	}
}
