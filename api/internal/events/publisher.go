package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
)

// Publisher delivers domain events after a command commits.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// LogPublisher writes each event to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *slog.Logger) LogPublisher {
	return LogPublisher{logger: logger}
}

// Publish logs the event at info level.
func (p LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.logger.InfoContext(ctx, "domain event",
		"type", event.Type,
		"user_id", event.UserID,
		"perk_id", event.PerkID,
		"net_score", event.NetScore,
	)
	return nil
}

// Fanout publishes to every wrapped publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
